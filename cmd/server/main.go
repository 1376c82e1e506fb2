// Package main is the entry point of the application
package main

import (
	"flag"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/renbarn/match-server/internal/auth"
	"github.com/renbarn/match-server/pkg/config"
	"github.com/renbarn/match-server/pkg/events"
	"github.com/renbarn/match-server/pkg/rating"
	"github.com/renbarn/match-server/pkg/registry"
	"github.com/renbarn/match-server/pkg/server"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,

	// Same-origin policy is enforced by the session token; the game
	// page and the websocket share a host in deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// application encapsulates global dependencies
type application struct {
	Logger    *zap.Logger
	Config    *config.Config
	Publisher *events.Publisher
	Directory *registry.Directory
	Hub       *server.Hub
	Store     *rating.Store
	Server    *http.Server

	StartTime time.Time
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.String("port", "", "server port")
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logger := initLogger(*debug)
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	cfg := config.Default()
	cfg.Debug = *debug
	if *configPath != "" {
		if err := cfg.LoadFile(*configPath); err != nil {
			logger.Fatal("loading config error", zap.Error(err))
		}
	}
	cfg.ApplyEnv()
	if *port != "" {
		cfg.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	publisher := events.NewPublisher()

	authenticator, err := buildAuthenticator(cfg, logger)
	if err != nil {
		logger.Fatal("auth store error", zap.Error(err))
	}

	directory := registry.NewDirectory(logger)
	directory.StartJanitor(publisher, cfg.RetentionWindow)

	settler := rating.NewElo()

	app := &application{
		Logger:    logger,
		Config:    cfg,
		Publisher: publisher,
		Directory: directory,
		StartTime: time.Now(),
	}

	if cfg.DatabaseURL != "" {
		store, err := rating.NewStore(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("rating store error", zap.Error(err))
		}
		app.Store = store
		app.archiveFinishedGames()
	}

	app.Hub = server.NewHub(cfg, authenticator, directory, settler, publisher, logger)
	go app.Hub.Run()

	if err := app.serve(); err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// buildAuthenticator picks the redis-backed session store when one is
// configured and falls back to the in-process store seeded from
// AUTH_TOKENS ("token:player_id:name:rating", comma-separated).
func buildAuthenticator(cfg *config.Config, logger *zap.Logger) (auth.Authenticator, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Info("using redis session store", zap.String("addr", opts.Addr))
		return auth.NewRedisStore(redis.NewClient(opts)), nil
	}

	store := auth.NewMemoryStore()
	for _, entry := range strings.Split(cfg.AuthTokens, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) < 3 {
			continue
		}
		identity := auth.Identity{ID: parts[1], Name: parts[2], Rating: 1200}
		if len(parts) >= 4 {
			if r, err := parseRating(parts[3]); err == nil {
				identity.Rating = r
			}
		}
		store.Put(parts[0], identity)
	}
	logger.Info("using in-memory session store")
	return store, nil
}

// Shutdown cleans up resources
func (app *application) Shutdown() {
	if app.Hub != nil {
		app.Hub.Shutdown()
	}
	if app.Store != nil {
		app.Store.Close()
	}

	app.Logger.Info("All components shut down successfully")
}
