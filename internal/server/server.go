package server

import (
	"path/filepath"

	"backend-walklog/internal/auth"
	"backend-walklog/internal/config"
	"backend-walklog/internal/sensor"
	"backend-walklog/internal/session"
	"backend-walklog/internal/stream"
	"backend-walklog/internal/walking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the components the HTTP surface fronts. Nil members leave their
// routes unregistered.
type Deps struct {
	Machine  *walking.Machine
	Sessions *session.Repository
	Syncer   *session.Syncer
	Feeds    sensor.Feeds
	Stream   *stream.Hub
}

type Server struct {
	App  *fiber.App
	Cfg  config.Config
	Deps Deps
}

func NewServer(cfg config.Config, deps Deps) *Server {
	app := fiber.New(fiber.Config{BodyLimit: 16 * 1024 * 1024})
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:  app,
		Cfg:  cfg,
		Deps: deps,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{"status": "ok"}
		if s.Deps.Machine != nil {
			if st, err := s.Deps.Machine.State(c.UserContext()); err == nil {
				body["walking"] = st.Phase
			}
		}
		return c.JSON(body)
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	if s.Deps.Machine != nil {
		uploads := filepath.Join(s.Cfg.MediaDir, "uploads")
		walking.RegisterRoutes(s.App.Group("/walking"), s.Deps.Machine, uploads, jwtMiddleware)
	}
	if s.Deps.Sessions != nil && s.Deps.Syncer != nil {
		session.RegisterRoutes(s.App.Group("/sessions"), s.Deps.Sessions, s.Deps.Syncer, jwtMiddleware)
	}
	if s.Deps.Feeds != nil {
		sensor.RegisterRoutes(s.App.Group("/sensors"), s.Deps.Feeds, jwtMiddleware)
	}
	if s.Deps.Stream != nil {
		stream.RegisterRoutes(s.App.Group("/stream"), s.Deps.Stream)
	}
}
