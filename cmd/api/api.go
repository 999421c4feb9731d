package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/KAsare1/picshare/cmd/config"
	"github.com/KAsare1/picshare/cmd/utils"
	"github.com/KAsare1/picshare/service"
	"github.com/KAsare1/picshare/service/posts"
	"github.com/KAsare1/picshare/service/profile"
	"github.com/KAsare1/picshare/service/user"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

type APIServer struct {
	cfg    *config.Config
	db     *gorm.DB
	media  utils.MediaStore
	mailer utils.Mailer
}

func NewAPIServer(cfg *config.Config, db *gorm.DB, media utils.MediaStore, mailer utils.Mailer) *APIServer {
	return &APIServer{
		cfg:    cfg,
		db:     db,
		media:  media,
		mailer: mailer,
	}
}

// Handler builds the full application handler.
func (s *APIServer) Handler() (http.Handler, error) {
	views, err := service.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	sessions := utils.NewSessions(s.cfg.SecretKey, s.cfg.SessionTTL)

	router := mux.NewRouter().StrictSlash(true)
	router.NotFoundHandler = http.HandlerFunc(views.NotFound)

	router.Handle("/", http.RedirectHandler("/posts/", http.StatusFound)).Methods("GET")

	userHandler := user.NewHandler(s.db, sessions, s.mailer, views, s.cfg.BaseURL)
	userHandler.RegisterRoutes(router)

	postHandler := posts.NewPostHandler(s.db, s.media, views)
	postHandler.RegisterRoutes(router)

	profileHandler := profile.NewHandler(s.db, s.media, views)
	profileHandler.RegisterRoutes(router)

	if s.cfg.Media.Backend == "local" && strings.HasPrefix(s.cfg.Media.URL, "/") {
		fileServer := http.FileServer(http.Dir(s.cfg.Media.Root))
		router.PathPrefix(s.cfg.Media.URL).Handler(http.StripPrefix(s.cfg.Media.URL, fileServer))
	}

	var h http.Handler = sessions.Middleware(s.db)(router)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(h)
	h = handlers.CustomLoggingHandler(io.Discard, h, logRequest)
	h = handlers.ProxyHeaders(h)
	return h, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *APIServer) Run(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + s.cfg.ServerPort,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("Server exited")
	return nil
}

func logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	log.Info().
		Str("method", p.Request.Method).
		Str("path", p.URL.RequestURI()).
		Str("remote", p.Request.RemoteAddr).
		Int("status", p.StatusCode).
		Int("size", p.Size).
		Dur("took", time.Since(p.TimeStamp)).
		Msg("Request")
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	log.Error().Msg(fmt.Sprint(v...))
}
