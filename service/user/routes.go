package user

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/KAsare1/picshare/cmd/models"
	"github.com/KAsare1/picshare/cmd/utils"
	"github.com/KAsare1/picshare/db"
	"github.com/KAsare1/picshare/service"
	"github.com/KAsare1/picshare/service/forms"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ResetTokenTTL is how long a password reset link stays valid.
const ResetTokenTTL = time.Hour

const defaultNext = "/posts/"

type Handler struct {
	db       *gorm.DB
	sessions *utils.Sessions
	mailer   utils.Mailer
	views    *service.Renderer
	baseURL  string
}

func NewHandler(db *gorm.DB, sessions *utils.Sessions, mailer utils.Mailer, views *service.Renderer, baseURL string) *Handler {
	return &Handler{
		db:       db,
		sessions: sessions,
		mailer:   mailer,
		views:    views,
		baseURL:  baseURL,
	}
}

// RegisterRoutes sets up all account routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/login/", h.LoginForm).Methods("GET")
	router.HandleFunc("/login/", h.handleLogin).Methods("POST")
	router.HandleFunc("/logout/", h.handleLogout).Methods("GET", "POST")
	router.HandleFunc("/register/", h.RegisterForm).Methods("GET")
	router.HandleFunc("/register/", h.HandleRegister).Methods("POST")

	router.HandleFunc("/password_reset/", h.PasswordResetForm).Methods("GET")
	router.HandleFunc("/password_reset/", h.handlePasswordResetRequest).Methods("POST")
	router.HandleFunc("/password_reset/done/", h.page("password_reset_done.html")).Methods("GET")
	router.HandleFunc("/password_reset/complete/", h.page("password_reset_complete.html")).Methods("GET")
	router.HandleFunc("/password_reset/{user_id:[0-9]+}/{token}/", h.SetPasswordForm).Methods("GET")
	router.HandleFunc("/password_reset/{user_id:[0-9]+}/{token}/", h.handlePasswordReset).Methods("POST")
}

func (h *Handler) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.views.Render(w, r, http.StatusOK, name, nil)
	}
}

func (h *Handler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusOK, "login.html", service.Data{
		"Username": "",
		"Next":     utils.SafeLocalPath(r.URL.Query().Get("next")),
	})
}

// handleLogin verifies credentials and starts a session. Every failure
// renders the same message so usernames cannot be discovered.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	form, err := forms.DecodeLogin(r)
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	next := utils.SafeLocalPath(form.Next)

	invalid := func() {
		h.views.Render(w, r, http.StatusOK, "login.html", service.Data{
			"Username": form.Username,
			"Next":     next,
			"Invalid":  true,
		})
	}

	if !form.Valid() {
		invalid()
		return
	}

	user, err := db.GetUserByUsername(r.Context(), h.db, form.Username)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.views.ServerError(w, r, err, "Failed to load user")
			return
		}
		utils.CheckPassword("", form.Password)
		invalid()
		return
	}
	if !utils.CheckPassword(user.PasswordHash, form.Password) {
		log.Info().Uint("user_id", user.ID).Msg("Failed login attempt")
		invalid()
		return
	}

	if err := h.sessions.Login(w, r, user); err != nil {
		h.views.ServerError(w, r, err, "Failed to issue session")
		return
	}
	log.Info().Uint("user_id", user.ID).Msg("User logged in")

	if next == "" {
		next = defaultNext
	}
	http.Redirect(w, r, next, http.StatusFound)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(w)
	http.Redirect(w, r, "/login/", http.StatusFound)
}

func (h *Handler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusOK, "register.html", service.Data{"Form": &forms.RegisterForm{}})
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	form, err := forms.DecodeRegister(r)
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	if !form.Valid() {
		h.views.Render(w, r, http.StatusOK, "register.html", service.Data{"Form": form})
		return
	}

	hash, err := utils.HashPassword(form.Password)
	if err != nil {
		h.views.ServerError(w, r, err, "Failed to hash password")
		return
	}

	user := &models.User{
		Username:     form.Username,
		Email:        form.Email,
		PasswordHash: hash,
	}
	if err := db.CreateUser(r.Context(), h.db, user); err != nil {
		if errors.Is(err, db.ErrUsernameTaken) {
			form.Errors.Add("username", "A user with that username already exists.")
			h.views.Render(w, r, http.StatusOK, "register.html", service.Data{"Form": form})
			return
		}
		h.views.ServerError(w, r, err, "Failed to create user")
		return
	}
	log.Info().Uint("user_id", user.ID).Str("username", user.Username).Msg("User registered")

	if err := h.sessions.Login(w, r, user); err != nil {
		h.views.ServerError(w, r, err, "Failed to issue session")
		return
	}
	http.Redirect(w, r, defaultNext, http.StatusFound)
}

func (h *Handler) PasswordResetForm(w http.ResponseWriter, r *http.Request) {
	h.views.Render(w, r, http.StatusOK, "password_reset.html", service.Data{"Form": &forms.PasswordResetForm{}})
}

// handlePasswordResetRequest mails a reset link when the address is known.
// The response is the same either way.
func (h *Handler) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	form, err := forms.DecodePasswordReset(r)
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	if !form.Valid() {
		h.views.Render(w, r, http.StatusOK, "password_reset.html", service.Data{"Form": form})
		return
	}

	ctx := r.Context()
	user, err := db.GetUserByEmail(ctx, h.db, form.Email)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Debug().Str("email", form.Email).Msg("Password reset requested for unknown email")
	case err != nil:
		h.views.ServerError(w, r, err, "Failed to load user")
		return
	default:
		token := uuid.NewString()
		if err := db.ReplaceResetToken(ctx, h.db, user.ID, token, ResetTokenTTL); err != nil {
			h.views.ServerError(w, r, err, "Error creating reset token")
			return
		}
		link := fmt.Sprintf("%s/password_reset/%d/%s/", h.baseURL, user.ID, token)
		body := fmt.Sprintf("Hello %s,\n\nFollow this link to choose a new password:\n\n%s\n\nThe link expires in one hour.\n", user.Username, link)
		if err := h.mailer.Send(user.Email, "Password reset", body); err != nil {
			log.Error().Err(err).Uint("user_id", user.ID).Msg("Error sending reset email")
		}
	}

	http.Redirect(w, r, "/password_reset/done/", http.StatusFound)
}

// resetTarget reads the user id and token from the link.
func resetTarget(r *http.Request) (uint, string) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["user_id"], 10, 32)
	if err != nil {
		return 0, ""
	}
	return uint(id), vars["token"]
}

func (h *Handler) renderSetPassword(w http.ResponseWriter, r *http.Request, valid bool, form *forms.SetPasswordForm) {
	userID, token := resetTarget(r)
	h.views.Render(w, r, http.StatusOK, "password_reset_confirm.html", service.Data{
		"ValidLink": valid,
		"Form":      form,
		"UserID":    userID,
		"Token":     token,
	})
}

func (h *Handler) SetPasswordForm(w http.ResponseWriter, r *http.Request) {
	userID, token := resetTarget(r)
	valid, err := db.CheckResetToken(r.Context(), h.db, userID, token)
	if err != nil {
		h.views.ServerError(w, r, err, "Failed to check reset token")
		return
	}
	h.renderSetPassword(w, r, valid, &forms.SetPasswordForm{})
}

func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, token := resetTarget(r)

	valid, err := db.CheckResetToken(ctx, h.db, userID, token)
	if err != nil {
		h.views.ServerError(w, r, err, "Failed to check reset token")
		return
	}
	if !valid {
		h.renderSetPassword(w, r, false, &forms.SetPasswordForm{})
		return
	}

	form, err := forms.DecodeSetPassword(r)
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	if !form.Valid() {
		h.renderSetPassword(w, r, true, form)
		return
	}

	hash, err := utils.HashPassword(form.Password)
	if err != nil {
		h.views.ServerError(w, r, err, "Failed to hash password")
		return
	}
	ok, err := db.ResetPassword(ctx, h.db, userID, token, hash)
	if err != nil {
		h.views.ServerError(w, r, err, "Error updating password")
		return
	}
	if !ok {
		h.renderSetPassword(w, r, false, &forms.SetPasswordForm{})
		return
	}
	log.Info().Uint("user_id", userID).Msg("Password reset")

	http.Redirect(w, r, "/password_reset/complete/", http.StatusFound)
}
