package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/voice-id/internal/logger"
	"github.com/codebuildervaibhav/voice-id/internal/service"
)

// Options configures the HTTP application.
type Options struct {
	Service     *service.Service
	APIKey      string
	BodyLimitMB int
	CORSOrigins string
	Logs        *logger.Buffer
	Logger      zerolog.Logger
}

// NewApp builds the Fiber application with middleware and routes.
func NewApp(opts Options) *fiber.App {
	log := logger.Component(opts.Logger, "http")
	bodyLimit := opts.BodyLimitMB * 1024 * 1024

	app := fiber.New(fiber.Config{
		AppName:               "voice-id",
		BodyLimit:             bodyLimit,
		ErrorHandler:          ErrorHandler(log),
		DisableStartupMessage: true,
		Immutable:             true,
		UnescapePath:          true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(RequestLogger(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: opts.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, X-Api-Key",
	}))

	h := NewHandler(opts.Service, opts.Logs, opts.Logger)

	app.Get("/health", h.Health)

	auth := RequireAPIKey(opts.APIKey)
	app.Post("/enroll", auth, h.Enroll)
	app.Post("/identify", auth, h.Identify)
	app.Get("/speakers", auth, h.ListSpeakers)
	app.Delete("/speakers/:speaker_id", auth, h.DeleteSpeaker)
	app.Get("/logs", auth, h.Logs)

	app.Get("/ws/identify", auth, StreamUpgrade, websocket.New(h.StreamIdentify(bodyLimit)))

	return app
}
