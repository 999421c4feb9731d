package profile

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

type Handler struct {
	db    *gorm.DB
	media utils.MediaStore
	views *service.Renderer
}

func NewHandler(db *gorm.DB, media utils.MediaStore, views *service.Renderer) *Handler {
	return &Handler{db: db, media: media, views: views}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/{user_id:[0-9]+}/profile/", h.GetProfile).Methods("GET")
	router.HandleFunc("/{user_id:[0-9]+}/profile/add_remove_friend/", utils.LoginRequired(h.ToggleFriend)).Methods("POST")
	router.HandleFunc("/{user_id:[0-9]+}/profile/edit/", utils.LoginRequired(h.EditForm)).Methods("GET")
	router.HandleFunc("/{user_id:[0-9]+}/profile/edit/", utils.LoginRequired(h.UpdateProfile)).Methods("POST")
}

func userID(r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["user_id"], 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

func profileURL(id uint) string {
	return fmt.Sprintf("/%d/profile/", id)
}

// loadProfile renders the not-found page and returns nil when the profile is missing.
func (h *Handler) loadProfile(w http.ResponseWriter, r *http.Request) *models.Profile {
	id, ok := userID(r)
	if !ok {
		h.views.NotFound(w, r)
		return nil
	}

	profile, err := db.GetProfile(r.Context(), h.db, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.views.NotFound(w, r)
		} else {
			h.views.ServerError(w, r, err, "Failed to load profile")
		}
		return nil
	}
	return profile
}

// ownProfile is loadProfile restricted to the session user's own profile.
// Other profiles look exactly like missing ones.
func (h *Handler) ownProfile(w http.ResponseWriter, r *http.Request) *models.Profile {
	user, _ := utils.CurrentUser(r.Context())
	if id, ok := userID(r); !ok || id != user.ID {
		h.views.NotFound(w, r)
		return nil
	}
	return h.loadProfile(w, r)
}

// GetProfile renders a public profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile := h.loadProfile(w, r)
	if profile == nil {
		return
	}
	ctx := r.Context()

	friends, err := db.Friends(ctx, h.db, profile.UserID)
	if err != nil {
		h.views.ServerError(w, r, err, "Failed to load friends")
		return
	}
	posts, err := db.UserPosts(ctx, h.db, profile.UserID)
	if err != nil {
		h.views.ServerError(w, r, err, "Failed to load posts")
		return
	}

	isOwner, isFriend := false, false
	if user, ok := utils.CurrentUser(ctx); ok {
		isOwner = user.ID == profile.UserID
		if !isOwner {
			if isFriend, err = db.AreFriends(ctx, h.db, user.ID, profile.UserID); err != nil {
				h.views.ServerError(w, r, err, "Failed to check friendship")
				return
			}
		}
	}

	h.views.Render(w, r, http.StatusOK, "profile.html", service.Data{
		"Profile":  profile,
		"Friends":  friends,
		"Posts":    posts,
		"IsOwner":  isOwner,
		"IsFriend": isFriend,
	})
}

// ToggleFriend adds or removes the profile owner from the session user's friends
func (h *Handler) ToggleFriend(w http.ResponseWriter, r *http.Request) {
	user, _ := utils.CurrentUser(r.Context())
	profile := h.loadProfile(w, r)
	if profile == nil {
		return
	}

	friends, err := db.ToggleFriend(r.Context(), h.db, user.ID, profile.UserID)
	if errors.Is(err, db.ErrSelfFriend) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.views.ServerError(w, r, err, "Failed to toggle friendship")
		return
	}

	log.Info().
		Uint("user_id", user.ID).
		Uint("friend_id", profile.UserID).
		Bool("friends", friends).
		Msg("Friendship toggled")

	utils.RedirectBack(w, r, profileURL(profile.UserID))
}

func (h *Handler) EditForm(w http.ResponseWriter, r *http.Request) {
	profile := h.ownProfile(w, r)
	if profile == nil {
		return
	}

	form := &forms.ProfileForm{About: profile.About}
	if profile.BirthDate != nil {
		form.BirthDate = profile.BirthDate.Format(forms.BirthDateLayout)
	}
	h.views.Render(w, r, http.StatusOK, "edit_profile.html", service.Data{"Profile": profile, "Form": form})
}

// UpdateProfile saves the owner's profile and returns to the profile page
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	profile := h.ownProfile(w, r)
	if profile == nil {
		return
	}

	forms.LimitBody(w, r)
	form, err := forms.DecodeProfile(r)
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	if !form.Valid() {
		h.views.Render(w, r, http.StatusOK, "edit_profile.html", service.Data{"Profile": profile, "Form": form})
		return
	}

	oldAvatar := profile.AvatarPath
	if form.Avatar != nil {
		file, err := form.Avatar.Open()
		if err != nil {
			h.views.ServerError(w, r, err, "Failed to open avatar")
			return
		}
		avatarURL, err := h.media.Save(r.Context(), "avatars", form.Avatar.Filename, file)
		file.Close()
		if err != nil {
			h.views.ServerError(w, r, err, "Failed to save avatar")
			return
		}
		profile.AvatarPath = avatarURL
	}

	born := form.ParsedBirthDate()
	profile.BirthDate = &born
	profile.About = form.About

	if err := db.UpdateProfile(r.Context(), h.db, profile); err != nil {
		h.views.ServerError(w, r, err, "Failed to update profile")
		return
	}
	if oldAvatar != "" && oldAvatar != profile.AvatarPath {
		if err := h.media.Delete(r.Context(), oldAvatar); err != nil {
			log.Warn().Err(err).Str("avatar", oldAvatar).Msg("Failed to remove avatar")
		}
	}

	http.Redirect(w, r, profileURL(profile.UserID), http.StatusFound)
}
