package api_test

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KAsare1/picshare/cmd/api"
	"github.com/KAsare1/picshare/cmd/config"
	"github.com/KAsare1/picshare/cmd/models"
	"github.com/KAsare1/picshare/cmd/utils"
	"github.com/KAsare1/picshare/db"
	"github.com/KAsare1/picshare/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) Send(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

type testApp struct {
	t        *testing.T
	db       *gorm.DB
	handler  http.Handler
	mailer   *fakeMailer
	sessions *utils.Sessions
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	cfg := &config.Config{
		ServerPort: "0",
		BaseURL:    "http://picshare.test",
		SecretKey:  testSecret,
		SessionTTL: time.Hour,
		Media: config.MediaConfig{
			Backend: "local",
			Root:    t.TempDir(),
			URL:     "/media/",
		},
	}
	gdb := dbtest.New(t)
	mailer := &fakeMailer{}
	media := utils.NewLocalStore(cfg.Media.Root, cfg.Media.URL)

	handler, err := api.NewAPIServer(cfg, gdb, media, mailer).Handler()
	require.NoError(t, err)

	return &testApp{
		t:        t,
		db:       gdb,
		handler:  handler,
		mailer:   mailer,
		sessions: utils.NewSessions(testSecret, time.Hour),
	}
}

// do serves req, authenticated as user when user is not nil.
func (a *testApp) do(req *http.Request, user *models.User) *httptest.ResponseRecorder {
	a.t.Helper()
	if user != nil {
		token, err := a.sessions.Issue(user.ID, user.SessionVersion)
		require.NoError(a.t, err)
		req.AddCookie(&http.Cookie{Name: utils.SessionCookie, Value: token})
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) get(path string, user *models.User) *httptest.ResponseRecorder {
	return a.do(httptest.NewRequest(http.MethodGet, path, nil), user)
}

func (a *testApp) postForm(path string, values url.Values, user *models.User) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.do(req, user)
}

func (a *testApp) postMultipart(path string, fields map[string]string, fileField, filename string, user *models.User) *httptest.ResponseRecorder {
	a.t.Helper()
	return a.postUpload(path, fields, fileField, filename, []byte("not really a jpeg"), user)
}

func (a *testApp) postUpload(path string, fields map[string]string, fileField, filename string, content []byte, user *models.User) *httptest.ResponseRecorder {
	a.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(a.t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		require.NoError(a.t, err)
		_, err = fw.Write(content)
		require.NoError(a.t, err)
	}
	require.NoError(a.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return a.do(req, user)
}

func postPath(p *models.Post, suffix string) string {
	return fmt.Sprintf("/posts/%d/%s", p.ID, suffix)
}

func TestRootRedirectsToPosts(t *testing.T) {
	app := newTestApp(t)

	rec := app.get("/", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/posts/", rec.Header().Get("Location"))
}

func TestPopularPostsOrder(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")
	bob := dbtest.User(t, app.db, "bob")
	quiet := dbtest.Post(t, app.db, alice, "quiet lake")
	loved := dbtest.Post(t, app.db, alice, "loved sunset")
	_, err := db.ToggleLike(t.Context(), app.db, loved.ID, bob.ID)
	require.NoError(t, err)

	rec := app.get("/posts/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Less(t, strings.Index(body, loved.Description), strings.Index(body, quiet.Description))
	assert.Contains(t, body, "1 likes")
}

func TestCreatePostUsesSessionUser(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")
	bob := dbtest.User(t, app.db, "bob")

	rec := app.postMultipart("/posts/create/", map[string]string{
		"description": "harbour at dawn",
		"user_id":     fmt.Sprint(bob.ID),
		"author":      fmt.Sprint(bob.ID),
	}, "image", "harbour.jpg", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your post was published.")

	var post models.Post
	require.NoError(t, app.db.Where("description = ?", "harbour at dawn").First(&post).Error)
	assert.Equal(t, alice.ID, post.UserID)
	assert.True(t, strings.HasPrefix(post.ImagePath, "/media/images/"), post.ImagePath)

	img := app.get(post.ImagePath, nil)
	assert.Equal(t, http.StatusOK, img.Code)
}

func TestCreatePostRejectsMissingImage(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")

	rec := app.postMultipart("/posts/create/", map[string]string{"description": "no picture"}, "", "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "This field is required.")

	var n int64
	require.NoError(t, app.db.Model(&models.Post{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCreatePostRejectsOversizedUpload(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")

	huge := bytes.Repeat([]byte{0xff}, utils.MaxImageSize+2<<20)
	rec := app.postUpload("/posts/create/", map[string]string{"description": "too big"}, "image", "huge.jpg", huge, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Image is larger than 10 MB.")

	var n int64
	require.NoError(t, app.db.Model(&models.Post{}).Count(&n).Error)
	assert.Zero(t, n)

	rec = app.postUpload(fmt.Sprintf("/%d/profile/edit/", alice.ID), map[string]string{"birth_date": "01-01-1990"}, "avatar", "huge.png", huge, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Image is larger than 10 MB.")
}

func TestLoginRequiredRedirects(t *testing.T) {
	app := newTestApp(t)

	rec := app.get("/posts/create/", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login/?next=%2Fposts%2Fcreate%2F", rec.Header().Get("Location"))
}

func TestUnknownPostIsNotFound(t *testing.T) {
	app := newTestApp(t)

	rec := app.get("/posts/999/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Page not found")
}

func TestCommentOnPost(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")
	bob := dbtest.User(t, app.db, "bob")
	post := dbtest.Post(t, app.db, alice, "forest path")

	rec := app.postForm(postPath(post, ""), url.Values{"text": {"lovely light"}, "user_id": {fmt.Sprint(alice.ID)}}, bob)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lovely light")

	comments, err := db.PostComments(t.Context(), app.db, post.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, bob.ID, comments[0].UserID)
}

func TestNonAuthorCannotEditOrDelete(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")
	bob := dbtest.User(t, app.db, "bob")
	post := dbtest.Post(t, app.db, alice, "private view")

	assert.Equal(t, http.StatusNotFound, app.get(postPath(post, "edit/"), bob).Code)
	assert.Equal(t, http.StatusNotFound, app.get(postPath(post, "delete/"), bob).Code)
	rec := app.postMultipart(postPath(post, "edit/"), map[string]string{"description": "hijacked"}, "", "", bob)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, app.postForm(postPath(post, "delete/"), nil, bob).Code)

	got, err := db.GetPost(t.Context(), app.db, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "private view", got.Description)
}

func TestAuthorEditsPost(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")
	post := dbtest.Post(t, app.db, alice, "first draft")

	assert.Equal(t, http.StatusOK, app.get(postPath(post, "edit/"), alice).Code)

	rec := app.postMultipart(postPath(post, "edit/"), map[string]string{"description": "final cut"}, "", "", alice)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, postPath(post, ""), rec.Header().Get("Location"))

	got, err := db.GetPost(t.Context(), app.db, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "final cut", got.Description)
	assert.Equal(t, post.ImagePath, got.ImagePath)
}

func TestAuthorDeletesPost(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")
	bob := dbtest.User(t, app.db, "bob")
	post := dbtest.Post(t, app.db, alice, "old news")
	require.NoError(t, db.CreateComment(t.Context(), app.db, &models.Comment{UserID: bob.ID, PostID: post.ID, Text: "bye"}))
	_, err := db.ToggleLike(t.Context(), app.db, post.ID, bob.ID)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, app.get(postPath(post, "delete/"), alice).Code)

	rec := app.postForm(postPath(post, "delete/"), nil, alice)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, postPath(post, "delete_success/"), rec.Header().Get("Location"))
	assert.Equal(t, http.StatusOK, app.get(postPath(post, "delete_success/"), nil).Code)

	assert.Equal(t, http.StatusNotFound, app.get(postPath(post, ""), nil).Code)
	var comments int64
	require.NoError(t, app.db.Model(&models.Comment{}).Where("post_id = ?", post.ID).Count(&comments).Error)
	assert.Zero(t, comments)
	likes, err := db.CountLikes(t.Context(), app.db, post.ID)
	require.NoError(t, err)
	assert.Zero(t, likes)
}

func TestLikeToggleOverHTTP(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")
	bob := dbtest.User(t, app.db, "bob")
	post := dbtest.Post(t, app.db, alice, "mountain top")

	rec := app.postForm(postPath(post, "like/"), nil, bob)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, postPath(post, ""), rec.Header().Get("Location"))
	likes, err := db.CountLikes(t.Context(), app.db, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), likes)

	req := httptest.NewRequest(http.MethodPost, postPath(post, "like/"), nil)
	req.Header.Set("Referer", "http://example.com/posts/")
	rec = app.do(req, bob)
	assert.Equal(t, "/posts/", rec.Header().Get("Location"))
	likes, err = db.CountLikes(t.Context(), app.db, post.ID)
	require.NoError(t, err)
	assert.Zero(t, likes)

	assert.Equal(t, http.StatusNotFound, app.postForm("/posts/999/like/", nil, bob).Code)
}

func TestFeed(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")
	bob := dbtest.User(t, app.db, "bob")
	carol := dbtest.User(t, app.db, "carol")
	dbtest.Post(t, app.db, bob, "bob at the beach")
	dbtest.Post(t, app.db, carol, "carol in the city")
	_, err := db.ToggleFriend(t.Context(), app.db, alice.ID, bob.ID)
	require.NoError(t, err)

	rec := app.get("/posts/feed/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "bob at the beach")

	rec = app.get("/posts/feed/", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bob at the beach")
	assert.NotContains(t, rec.Body.String(), "carol in the city")
}

func TestFriendToggleOverHTTP(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")
	bob := dbtest.User(t, app.db, "bob")
	path := fmt.Sprintf("/%d/profile/add_remove_friend/", bob.ID)

	rec := app.postForm(path, nil, alice)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, fmt.Sprintf("/%d/profile/", bob.ID), rec.Header().Get("Location"))

	ok, err := db.AreFriends(t.Context(), app.db, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = db.AreFriends(t.Context(), app.db, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	profile := app.get(fmt.Sprintf("/%d/profile/", bob.ID), alice)
	assert.Contains(t, profile.Body.String(), "Remove friend")

	app.postForm(path, nil, alice)
	ids, err := db.FriendIDs(t.Context(), app.db, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFriendToggleRejectsSelf(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")

	rec := app.postForm(fmt.Sprintf("/%d/profile/add_remove_friend/", alice.ID), nil, alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFriendToggleUnknownProfile(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")

	assert.Equal(t, http.StatusNotFound, app.postForm("/999/profile/add_remove_friend/", nil, alice).Code)
}

func TestEditProfile(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")
	bob := dbtest.User(t, app.db, "bob")
	path := fmt.Sprintf("/%d/profile/edit/", alice.ID)

	assert.Equal(t, http.StatusNotFound, app.get(path, bob).Code)
	rec := app.postMultipart(path, map[string]string{"birth_date": "01-01-2000"}, "", "", bob)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.postMultipart(path, map[string]string{"birth_date": "2000-01-01"}, "", "", alice)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Enter a valid date in the format dd-mm-yyyy.")

	rec = app.postMultipart(path, map[string]string{"birth_date": "17-05-1990", "about": "photographer"}, "avatar", "me.png", alice)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, fmt.Sprintf("/%d/profile/", alice.ID), rec.Header().Get("Location"))

	profile, err := db.GetProfile(t.Context(), app.db, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, profile.BirthDate)
	assert.Equal(t, "17-05-1990", profile.BirthDate.Format("02-01-2006"))
	assert.Equal(t, "photographer", profile.About)
	assert.True(t, strings.HasPrefix(profile.AvatarPath, "/media/avatars/"), profile.AvatarPath)

	page := app.get(fmt.Sprintf("/%d/profile/", alice.ID), nil)
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "Born 17-05-1990")
}

func TestLogin(t *testing.T) {
	app := newTestApp(t)
	hash, err := utils.HashPassword("correct-horse")
	require.NoError(t, err)
	user := &models.User{Username: "alice", Email: "alice@example.com", PasswordHash: hash}
	require.NoError(t, db.CreateUser(t.Context(), app.db, user))

	const invalid = "Please enter a correct username and password."

	for _, values := range []url.Values{
		{"username": {"alice"}, "password": {"wrong"}},
		{"username": {"nobody"}, "password": {"correct-horse"}},
		{"username": {"alice"}},
	} {
		rec := app.postForm("/login/", values, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), invalid)
		assert.Empty(t, rec.Result().Cookies())
	}

	rec := app.postForm("/login/", url.Values{
		"username": {"alice"},
		"password": {"correct-horse"},
		"next":     {"/posts/feed/"},
	}, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/posts/feed/", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, utils.SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	id, _, err := app.sessions.Parse(cookies[0].Value)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)

	rec = app.postForm("/login/", url.Values{
		"username": {"alice"},
		"password": {"correct-horse"},
		"next":     {"https://evil.example/"},
	}, nil)
	assert.Equal(t, "/posts/", rec.Header().Get("Location"))
}

func TestLogout(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")

	rec := app.postForm("/logout/", nil, alice)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login/", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, utils.SessionCookie, cookies[len(cookies)-1].Name)
	assert.Negative(t, cookies[len(cookies)-1].MaxAge)
}

func TestRegister(t *testing.T) {
	app := newTestApp(t)
	dbtest.User(t, app.db, "taken")

	rec := app.postForm("/register/", url.Values{
		"username":  {"taken"},
		"email":     {"x@example.com"},
		"password1": {"long-enough"},
		"password2": {"long-enough"},
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "A user with that username already exists.")

	rec = app.postForm("/register/", url.Values{
		"username":  {"newbie"},
		"email":     {"newbie@example.com"},
		"password1": {"long-enough"},
		"password2": {"long-enough"},
	}, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/posts/", rec.Header().Get("Location"))
	assert.NotEmpty(t, rec.Result().Cookies())

	user, err := db.GetUserByUsername(t.Context(), app.db, "newbie")
	require.NoError(t, err)
	assert.True(t, utils.CheckPassword(user.PasswordHash, "long-enough"))
	_, err = db.GetProfile(t.Context(), app.db, user.ID)
	assert.NoError(t, err)
}

func TestRegisterRejectsPasswordOverBcryptLimit(t *testing.T) {
	app := newTestApp(t)

	long := strings.Repeat("x", 80)
	rec := app.postForm("/register/", url.Values{
		"username":  {"verbose"},
		"email":     {"verbose@example.com"},
		"password1": {long},
		"password2": {long},
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ensure this value has at most 72 bytes.")
	assert.Empty(t, rec.Result().Cookies())

	_, err := db.GetUserByUsername(t.Context(), app.db, "verbose")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

var resetLink = regexp.MustCompile(`http://picshare\.test(/password_reset/\d+/[^/\s]+/)`)

func TestPasswordResetFlow(t *testing.T) {
	app := newTestApp(t)
	alice := dbtest.User(t, app.db, "alice")

	rec := app.postForm("/password_reset/", url.Values{"email": {"nobody@example.com"}}, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/password_reset/done/", rec.Header().Get("Location"))
	assert.Empty(t, app.mailer.sent)

	rec = app.postForm("/password_reset/", url.Values{"email": {"ALICE@example.com"}}, nil)
	assert.Equal(t, "/password_reset/done/", rec.Header().Get("Location"))
	require.Len(t, app.mailer.sent, 1)
	assert.Equal(t, alice.Email, app.mailer.sent[0].to)

	m := resetLink.FindStringSubmatch(app.mailer.sent[0].body)
	require.Len(t, m, 2, app.mailer.sent[0].body)
	link := m[1]

	rec = app.get(link, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Set a new password")

	rec = app.postForm(link, url.Values{"new_password1": {"brand-new-pass"}, "new_password2": {"other"}}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Set a new password")

	long := strings.Repeat("x", 80)
	rec = app.postForm(link, url.Values{"new_password1": {long}, "new_password2": {long}}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ensure this value has at most 72 bytes.")

	// The session from before the reset is still good until the reset lands.
	rec = app.get("/posts/create/", alice)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = app.postForm(link, url.Values{"new_password1": {"brand-new-pass"}, "new_password2": {"brand-new-pass"}}, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/password_reset/complete/", rec.Header().Get("Location"))

	user, err := db.GetUser(t.Context(), app.db, alice.ID)
	require.NoError(t, err)
	assert.True(t, utils.CheckPassword(user.PasswordHash, "brand-new-pass"))

	// alice still carries the old session version.
	rec = app.get("/posts/create/", alice)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login/?next=%2Fposts%2Fcreate%2F", rec.Header().Get("Location"))
	rec = app.get("/posts/create/", user)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = app.get(link, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid link")
}
