package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/KAsare1/picshare/cmd/api"
	"github.com/KAsare1/picshare/cmd/config"
	"github.com/KAsare1/picshare/cmd/models"
	"github.com/KAsare1/picshare/cmd/utils"
	"github.com/KAsare1/picshare/db"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.LogLevel)

	DB, err := db.NewPSQLStorage(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database initialization error")
	}
	defer func() {
		sqlDB, _ := DB.DB()
		sqlDB.Close()
		log.Info().Msg("Database connection closed")
	}()

	// Check for command-line arguments
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			runMigrations(cfg, DB)
			return
		case "clear-db":
			runDatabaseClear(DB)
			return
		default:
			log.Fatal().Str("command", os.Args[1]).Msg("Unknown command")
		}
	}

	startServer(cfg, DB)
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func runMigrations(cfg *config.Config, DB *gorm.DB) {
	log.Info().Msg("Starting database migrations...")
	if err := db.Migrate(DB); err != nil {
		log.Fatal().Err(err).Msg("Migration error")
	}

	if cfg.Media.Backend == "local" {
		for _, dir := range []string{"images", "avatars"} {
			path := filepath.Join(cfg.Media.Root, dir)
			if err := os.MkdirAll(path, 0o755); err != nil {
				log.Fatal().Err(err).Str("dir", path).Msg("Error creating directory")
			}
			log.Info().Str("dir", path).Msg("Directory created/verified")
		}
	}
	log.Info().Msg("Migrations completed successfully")
}

var tablesByName = map[string]interface{}{
	"User":               &models.User{},
	"Profile":            &models.Profile{},
	"Friendship":         &models.Friendship{},
	"Post":               &models.Post{},
	"Comment":            &models.Comment{},
	"PostLike":           &models.PostLike{},
	"PasswordResetToken": &models.PasswordResetToken{},
}

func runDatabaseClear(DB *gorm.DB) {
	in := bufio.NewReader(os.Stdin)

	fmt.Print("Are you sure you want to clear the database? (yes/no): ")
	confirmation, _ := in.ReadString('\n')
	if strings.TrimSpace(confirmation) != "yes" {
		log.Info().Msg("Database clearing cancelled.")
		return
	}

	fmt.Print("Enter table names to clear (comma separated) or leave blank to clear all: ")
	names, _ := in.ReadString('\n')

	var tables []interface{}
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		table, ok := tablesByName[name]
		if !ok {
			log.Warn().Str("table", name).Msg("Unknown table")
			continue
		}
		tables = append(tables, table)
	}

	if err := db.Drop(DB, tables...); err != nil {
		log.Fatal().Err(err).Msg("Error clearing database")
	}
	log.Info().Msg("Database cleared successfully")
}

func newMediaStore(ctx context.Context, cfg *config.Config) (utils.MediaStore, error) {
	if cfg.Media.Backend == "s3" {
		store, err := utils.NewS3Store(ctx, utils.S3Options{
			Bucket:    cfg.Media.S3Bucket,
			Region:    cfg.Media.S3Region,
			Endpoint:  cfg.Media.S3Endpoint,
			AccessKey: cfg.Media.S3AccessKey,
			SecretKey: cfg.Media.S3SecretKey,
			PublicURL: cfg.Media.S3PublicURL,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return utils.NewLocalStore(cfg.Media.Root, cfg.Media.URL), nil
}

func startServer(cfg *config.Config, DB *gorm.DB) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	media, err := newMediaStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create media store")
	}

	var mailer utils.Mailer = utils.LogMailer{}
	if cfg.SMTP.Host != "" {
		mailer = utils.NewSMTPMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass, cfg.SMTP.From)
	}

	server := api.NewAPIServer(cfg, DB, media, mailer)
	if err := server.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Server error")
	}
}
