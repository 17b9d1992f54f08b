package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/vbonduro/treetag/internal/auth"
	"github.com/vbonduro/treetag/internal/config"
	"github.com/vbonduro/treetag/internal/db"
	"github.com/vbonduro/treetag/internal/domain"
	"github.com/vbonduro/treetag/internal/identify"
	claudeidentify "github.com/vbonduro/treetag/internal/identify/claude"
	ollamaidentify "github.com/vbonduro/treetag/internal/identify/ollama"
	"github.com/vbonduro/treetag/internal/logging"
	"github.com/vbonduro/treetag/internal/metrics"
	"github.com/vbonduro/treetag/internal/photostore"
	"github.com/vbonduro/treetag/internal/photostore/local"
	s3store "github.com/vbonduro/treetag/internal/photostore/s3"
	"github.com/vbonduro/treetag/internal/service"
	"github.com/vbonduro/treetag/internal/session"
	"github.com/vbonduro/treetag/internal/species"
	"github.com/vbonduro/treetag/internal/store"
	"github.com/vbonduro/treetag/internal/web"
)

func main() {
	cfg := config.Load()

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			log.Fatal(err)
		}
		return
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		return
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		logger.Error("failed to load species list", "error", err)
		return
	}
	logger.Info("species list loaded", "entries", catalog.Len())

	staging, err := local.NewLocalPhotoStore(cfg.PhotoStagingPath, "")
	if err != nil {
		logger.Error("failed to initialize staging photo store", "error", err)
		return
	}

	photos, err := newPhotoStore(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize photo store", "error", err)
		return
	}

	trees := service.NewTreeService(store.NewTreeStore(database), staging, photos, newIdentifier(cfg, logger), catalog, logger)

	m := metrics.New()
	sessions := session.NewManager(cfg.SessionTTL, catalog, trees, m, logger)
	m.RegisterActiveSessions(sessions.Count)

	server := web.NewServer(web.Deps{
		Trees:    trees,
		Sessions: sessions,
		Catalog:  catalog,
		Photos:   photos,
		Tokens:   auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL),
		Limiter:  web.NewSubmitLimiter(cfg.SubmitRatePerSec, cfg.SubmitBurst),
		Metrics:  m,
	}, logger)

	if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
		logger.Error("server error", "error", err)
	}
}

// issueToken prints a signed token for a contributor, e.g.
// "treetag token -user alice -validator".
func issueToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id to issue the token for")
	validator := fs.Bool("validator", false, "allow the user to validate trees")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("-user is required")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	signed, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL).Issue(domain.User{ID: *userID, Validator: *validator})
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}

func loadCatalog(cfg *config.Config) (*species.Catalog, error) {
	if cfg.SpeciesPath == "" {
		return species.Default()
	}
	return species.Load(cfg.SpeciesPath)
}

func newPhotoStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (photostore.PhotoStore, error) {
	switch cfg.PhotoBackend {
	case "s3":
		logger.Info("using S3 photo store", "bucket", cfg.S3Bucket, "region", cfg.S3Region)
		return s3store.New(ctx, s3store.Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			PathStyle:     cfg.S3PathStyle,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
	default:
		logger.Info("using local photo store", "path", cfg.PhotoPath)
		return local.NewLocalPhotoStore(cfg.PhotoPath, cfg.PhotoBaseURL)
	}
}

// newIdentifier returns nil when suggestions are disabled or misconfigured.
func newIdentifier(cfg *config.Config, logger *slog.Logger) identify.Identifier {
	switch cfg.IdentifyBackend {
	case "claude":
		if cfg.ClaudeAPIKey == "" {
			logger.Error("CLAUDE_API_KEY is required when IDENTIFY_BACKEND=claude")
			return nil
		}
		logger.Info("using Claude species identification", "model", cfg.ClaudeModel)
		return claudeidentify.NewClaudeIdentifier(cfg.ClaudeAPIKey, cfg.ClaudeModel)
	case "ollama":
		logger.Info("using Ollama species identification", "model", cfg.OllamaModel)
		return ollamaidentify.NewOllamaIdentifier(cfg.OllamaHost, cfg.OllamaModel)
	default:
		logger.Info("species identification disabled")
		return nil
	}
}
