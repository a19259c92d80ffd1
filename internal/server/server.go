package server

import (
	"backend-walkguard/internal/audit"
	"backend-walkguard/internal/auth"
	"backend-walkguard/internal/config"
	"backend-walkguard/internal/db"
	"backend-walkguard/internal/notify"
	"backend-walkguard/internal/session"
	"backend-walkguard/internal/stream"
	"backend-walkguard/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       db.TxQuerier
	Redis    *redis.Client
	Stream   *stream.Hub
	Notifier *notify.Notifier
	Tracking *tracking.Service
	Sessions *session.Service
	Audit    *audit.Builder
}

// NewServer wires the walk services. pub receives alerts and billing
// summaries; the caller runs Notifier.
func NewServer(cfg config.Config, pg db.TxQuerier, redisClient *redis.Client, pub notify.Publisher) (*Server, error) {
	keyring, err := audit.KeyringFromSecret(cfg.AuditHMACKey, cfg.AuditHMACKeyID)
	if err != nil {
		return nil, err
	}
	if keyring != nil {
		logrus.WithField("key_id", keyring.ActiveKeyID()).Info("audit blocks will be signed")
	} else {
		logrus.Warn("AUDIT_HMAC_KEY unset, audit blocks are unsigned")
	}
	if pub == nil {
		pub = notify.LogPublisher{}
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	hub := stream.NewHub(redisClient)
	notifier := notify.NewNotifier(pub, cfg.AlertQueue)
	tracker := tracking.NewService(pg, hub, notifier, tracking.Limits{Default: cfg.TrailDefaultLimit, Max: cfg.TrailMaxLimit})
	builder := audit.NewBuilder(audit.NewPostgresStore(pg), tracker, keyring, cfg.AuditAppendRetries)

	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       pg,
		Redis:    redisClient,
		Stream:   hub,
		Notifier: notifier,
		Tracking: tracker,
		Sessions: session.NewService(pg, tracker, builder, notifier, cfg.DefaultRadiusM),
		Audit:    builder,
	}

	registerRoutes(s)
	return s, nil
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	session.RegisterRoutes(s.App.Group("/sessions"), s.Sessions, jwtMiddleware)
	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracking, jwtMiddleware)
	audit.RegisterRoutes(s.App.Group("/audit"), s.Audit, s.Sessions, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
