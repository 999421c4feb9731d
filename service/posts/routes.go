package posts

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/KAsare1/picshare/cmd/models"
	"github.com/KAsare1/picshare/cmd/utils"
	"github.com/KAsare1/picshare/db"
	"github.com/KAsare1/picshare/service"
	"github.com/KAsare1/picshare/service/forms"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type PostHandler struct {
	db    *gorm.DB
	media utils.MediaStore
	views *service.Renderer
}

func NewPostHandler(db *gorm.DB, media utils.MediaStore, views *service.Renderer) *PostHandler {
	return &PostHandler{db: db, media: media, views: views}
}

func (h *PostHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/posts/", h.ListPopular).Methods("GET")
	router.HandleFunc("/posts/feed/", h.Feed).Methods("GET")
	router.HandleFunc("/posts/create/", utils.LoginRequired(h.CreateForm)).Methods("GET")
	router.HandleFunc("/posts/create/", utils.LoginRequired(h.CreatePost)).Methods("POST")

	router.HandleFunc("/posts/{post_id:[0-9]+}/", h.GetPost).Methods("GET")
	router.HandleFunc("/posts/{post_id:[0-9]+}/", utils.LoginRequired(h.AddComment)).Methods("POST")
	router.HandleFunc("/posts/{post_id:[0-9]+}/edit/", utils.LoginRequired(h.EditForm)).Methods("GET")
	router.HandleFunc("/posts/{post_id:[0-9]+}/edit/", utils.LoginRequired(h.UpdatePost)).Methods("POST")
	router.HandleFunc("/posts/{post_id:[0-9]+}/delete/", utils.LoginRequired(h.DeleteConfirm)).Methods("GET")
	router.HandleFunc("/posts/{post_id:[0-9]+}/delete/", utils.LoginRequired(h.DeletePost)).Methods("POST")
	router.HandleFunc("/posts/{post_id:[0-9]+}/delete_success/", h.DeleteSuccess).Methods("GET")
	router.HandleFunc("/posts/{post_id:[0-9]+}/like/", utils.LoginRequired(h.LikePost)).Methods("POST")
}

// postID reads the post_id path variable. ok is false when it does not fit a uint.
func postID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["post_id"], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

// ListPopular renders every post ranked by likes
func (h *PostHandler) ListPopular(w http.ResponseWriter, r *http.Request) {
	posts, err := db.PopularPosts(r.Context(), h.db)
	if err != nil {
		h.views.ServerError(w, r, err, "Failed to list posts")
		return
	}
	h.views.Render(w, r, http.StatusOK, "index.html", service.Data{"Posts": posts})
}

// Feed renders posts written by the caller's friends
func (h *PostHandler) Feed(w http.ResponseWriter, r *http.Request) {
	user, ok := utils.CurrentUser(r.Context())
	if !ok {
		h.views.Render(w, r, http.StatusOK, "feed.html", nil)
		return
	}

	posts, err := db.FeedPosts(r.Context(), h.db, user.ID)
	if err != nil {
		h.views.ServerError(w, r, err, "Failed to load feed")
		return
	}
	h.views.Render(w, r, http.StatusOK, "feed.html", service.Data{"Posts": posts})
}

func (h *PostHandler) CreateForm(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusOK, "post_create.html", service.Data{"Form": &forms.PostForm{}})
}

// CreatePost stores a new post written by the session user
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	user, _ := utils.CurrentUser(r.Context())

	forms.LimitBody(w, r)
	form, err := forms.DecodePost(r)
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	if !form.Valid(true) {
		h.views.Render(w, r, http.StatusOK, "post_create.html", service.Data{"Form": form, "Created": false})
		return
	}

	imageURL, err := h.saveImage(r, form)
	if err != nil {
		h.views.ServerError(w, r, err, "Failed to save image")
		return
	}

	post := models.Post{
		UserID:      user.ID,
		Description: form.Description,
		ImagePath:   imageURL,
	}
	if err := db.CreatePost(r.Context(), h.db, &post); err != nil {
		h.removeImage(r, imageURL)
		h.views.ServerError(w, r, err, "Failed to create post")
		return
	}

	log.Info().
		Uint("user_id", user.ID).
		Uint("post_id", post.ID).
		Msg("Post created")

	h.views.Render(w, r, http.StatusOK, "post_create.html", service.Data{"Form": &forms.PostForm{}, "Created": true})
}

// GetPost renders a post with its comments
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(r)
	if !ok {
		h.views.NotFound(w, r)
		return
	}

	post, err := db.GetPost(r.Context(), h.db, id)
	if err != nil {
		h.notFoundOrError(w, r, err)
		return
	}

	var form *forms.CommentForm
	if _, ok := utils.CurrentUser(r.Context()); ok {
		form = &forms.CommentForm{}
	}
	h.renderDetail(w, r, post, form)
}

// AddComment stores a comment by the session user and re-renders the post
func (h *PostHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	user, _ := utils.CurrentUser(r.Context())
	id, ok := postID(r)
	if !ok {
		h.views.NotFound(w, r)
		return
	}

	post, err := db.GetPost(r.Context(), h.db, id)
	if err != nil {
		h.notFoundOrError(w, r, err)
		return
	}

	form, err := forms.DecodeComment(r)
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	if !form.Valid() {
		h.renderDetail(w, r, post, form)
		return
	}

	comment := models.Comment{
		UserID: user.ID,
		PostID: post.ID,
		Text:   form.Text,
	}
	if err := db.CreateComment(r.Context(), h.db, &comment); err != nil {
		h.views.ServerError(w, r, err, "Failed to create comment")
		return
	}

	log.Info().
		Uint("user_id", user.ID).
		Uint("post_id", post.ID).
		Uint("comment_id", comment.ID).
		Msg("Comment added")

	h.renderDetail(w, r, post, &forms.CommentForm{})
}

func (h *PostHandler) renderDetail(w http.ResponseWriter, r *http.Request, post *models.Post, form *forms.CommentForm) {
	ctx := r.Context()

	comments, err := db.PostComments(ctx, h.db, post.ID)
	if err != nil {
		h.views.ServerError(w, r, err, "Failed to list comments")
		return
	}
	likes, err := db.CountLikes(ctx, h.db, post.ID)
	if err != nil {
		h.views.ServerError(w, r, err, "Failed to count likes")
		return
	}

	liked := false
	if user, ok := utils.CurrentUser(ctx); ok {
		if liked, err = db.HasLiked(ctx, h.db, post.ID, user.ID); err != nil {
			h.views.ServerError(w, r, err, "Failed to check like")
			return
		}
	}

	h.views.Render(w, r, http.StatusOK, "post_detail.html", service.Data{
		"Post":        post,
		"Comments":    comments,
		"Likes":       likes,
		"Liked":       liked,
		"CommentForm": form,
	})
}

// ownPost loads the post named in the URL if the session user wrote it.
// Otherwise it renders the not-found page and returns nil.
func (h *PostHandler) ownPost(w http.ResponseWriter, r *http.Request) *models.Post {
	user, _ := utils.CurrentUser(r.Context())
	id, ok := postID(r)
	if !ok {
		h.views.NotFound(w, r)
		return nil
	}

	post, err := db.GetOwnedPost(r.Context(), h.db, id, user.ID)
	if err != nil {
		h.notFoundOrError(w, r, err)
		return nil
	}
	return post
}

func (h *PostHandler) EditForm(w http.ResponseWriter, r *http.Request) {
	post := h.ownPost(w, r)
	if post == nil {
		return
	}
	form := &forms.PostForm{Description: post.Description}
	h.views.Render(w, r, http.StatusOK, "post_edit.html", service.Data{"Post": post, "Form": form})
}

// UpdatePost changes the description and optionally the image of a post
func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	post := h.ownPost(w, r)
	if post == nil {
		return
	}

	forms.LimitBody(w, r)
	form, err := forms.DecodePost(r)
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	if !form.Valid(false) {
		h.views.Render(w, r, http.StatusOK, "post_edit.html", service.Data{"Post": post, "Form": form})
		return
	}

	oldImage := post.ImagePath
	post.Description = form.Description
	if form.Image != nil {
		imageURL, err := h.saveImage(r, form)
		if err != nil {
			h.views.ServerError(w, r, err, "Failed to save image")
			return
		}
		post.ImagePath = imageURL
	}

	if err := db.UpdatePost(r.Context(), h.db, post); err != nil {
		if post.ImagePath != oldImage {
			h.removeImage(r, post.ImagePath)
		}
		h.views.ServerError(w, r, err, "Failed to update post")
		return
	}
	if post.ImagePath != oldImage {
		h.removeImage(r, oldImage)
	}

	http.Redirect(w, r, fmt.Sprintf("/posts/%d/", post.ID), http.StatusFound)
}

func (h *PostHandler) DeleteConfirm(w http.ResponseWriter, r *http.Request) {
	post := h.ownPost(w, r)
	if post == nil {
		return
	}
	h.views.Render(w, r, http.StatusOK, "post_delete.html", service.Data{"Post": post})
}

// DeletePost deletes a post with its comments and likes
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	post := h.ownPost(w, r)
	if post == nil {
		return
	}

	if err := db.DeletePost(r.Context(), h.db, post.ID); err != nil {
		h.notFoundOrError(w, r, err)
		return
	}
	h.removeImage(r, post.ImagePath)

	log.Info().
		Uint("user_id", post.UserID).
		Uint("post_id", post.ID).
		Msg("Post deleted")

	http.Redirect(w, r, fmt.Sprintf("/posts/%d/delete_success/", post.ID), http.StatusFound)
}

func (h *PostHandler) DeleteSuccess(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(r)
	if !ok {
		h.views.NotFound(w, r)
		return
	}
	h.views.Render(w, r, http.StatusOK, "delete_success.html", service.Data{"PostID": id})
}

// LikePost toggles the session user's like and returns to the referring page
func (h *PostHandler) LikePost(w http.ResponseWriter, r *http.Request) {
	user, _ := utils.CurrentUser(r.Context())
	id, ok := postID(r)
	if !ok {
		h.views.NotFound(w, r)
		return
	}

	if _, err := db.GetPost(r.Context(), h.db, id); err != nil {
		h.notFoundOrError(w, r, err)
		return
	}

	liked, err := db.ToggleLike(r.Context(), h.db, id, user.ID)
	if err != nil {
		h.views.ServerError(w, r, err, "Failed to toggle like")
		return
	}

	log.Debug().
		Uint("user_id", user.ID).
		Uint("post_id", id).
		Bool("liked", liked).
		Msg("Like toggled")

	utils.RedirectBack(w, r, fmt.Sprintf("/posts/%d/", id))
}

func (h *PostHandler) saveImage(r *http.Request, form *forms.PostForm) (string, error) {
	file, err := form.Image.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	return h.media.Save(r.Context(), "images", form.Image.Filename, file)
}

func (h *PostHandler) removeImage(r *http.Request, url string) {
	if err := h.media.Delete(r.Context(), url); err != nil {
		log.Warn().Err(err).Str("image", url).Msg("Failed to remove image")
	}
}

func (h *PostHandler) notFoundOrError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		h.views.NotFound(w, r)
		return
	}
	h.views.ServerError(w, r, err, "Failed to load post")
}
