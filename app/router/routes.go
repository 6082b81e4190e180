// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/amirphl/conversion-relay/app/dto"
	"github.com/amirphl/conversion-relay/app/handlers"
	"github.com/amirphl/conversion-relay/app/middleware"
	"github.com/amirphl/conversion-relay/config"
	"github.com/amirphl/conversion-relay/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Handlers groups every HTTP handler the router mounts
type Handlers struct {
	Health   *handlers.HealthHandler
	Tracking handlers.TrackingHandlerInterface
	Webhook  handlers.WebhookHandlerInterface
	Chat     handlers.ChatHandlerInterface
	Admin    handlers.AdminHandlerInterface
}

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app      *fiber.App
	cfg      *config.ProductionConfig
	handlers Handlers
	auth     *middleware.AuthMiddleware
	logger   logrus.FieldLogger
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(cfg *config.ProductionConfig, h Handlers, auth *middleware.AuthMiddleware, logger logrus.FieldLogger) *FiberRouter {
	r := &FiberRouter{cfg: cfg, handlers: h, auth: auth, logger: logger}

	fcfg := fiber.Config{
		AppName:      "Conversion Relay",
		ServerHeader: "conversion-relay",
		ErrorHandler: r.errorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,

		// handlers hand request values to background jobs
		Immutable: true,
	}
	if cfg.Server.ProxyHeader != "" {
		fcfg.ProxyHeader = cfg.Server.ProxyHeader
		fcfg.TrustProxy = true
		fcfg.TrustProxyConfig = fiber.TrustProxyConfig{Proxies: cfg.Server.TrustedProxies}
	}
	r.app = fiber.New(fcfg)
	return r
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	r.setupMiddleware()

	r.app.Get("/", r.handlers.Health.Health)
	if r.cfg.Metrics.Enabled {
		r.app.Get(r.cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	// Click capture is served to browsers; the beacon and redirect skip the limiter
	r.app.Get("/pixel.gif", r.handlers.Tracking.Pixel)
	r.app.Get("/redirect", r.handlers.Tracking.Redirect)

	api := r.app.Group("/api")
	api.Use(r.rateLimiter(r.cfg.Security.GlobalRateLimit))
	api.Post("/track", r.handlers.Tracking.Track)
	api.Get("/webhook/apex", r.handlers.Webhook.Validate)
	api.Post("/webhook/apex", r.handlers.Webhook.Receive)
	api.Post("/chat/messages", r.handlers.Chat.Receive)

	admin := r.app.Group("/admin")
	admin.Use(r.rateLimiter(r.cfg.Security.AdminRateLimit))
	admin.Post("/tokens", r.handlers.Admin.IssueToken)

	protected := admin.Group("", r.auth.AdminAuthenticate())
	protected.Get("/pixels", r.handlers.Admin.ListPixels)
	protected.Post("/pixels", r.handlers.Admin.UpsertPixel)
	protected.Delete("/pixels/:platform/:pixel_id", r.handlers.Admin.DeactivatePixel)
	protected.Post("/sales/:sale_code/dispatch", r.handlers.Admin.Redispatch)
	protected.Get("/dispatches/failed", r.handlers.Admin.ListFailedDispatches)
	protected.Get("/dispatches/failed/export", r.handlers.Admin.ExportFailedDispatches)

	r.app.Use(r.notFoundHandler)

	r.logger.Info("Routes configured successfully")
}

// setupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: generateRequestID,
	}))

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			r.logger.WithFields(logrus.Fields{
				"request_id": requestid.FromContext(c),
				"path":       c.Path(),
				"method":     c.Method(),
				"ip":         c.IP(),
				"panic":      e,
			}).Error("Recovered from panic")
		},
	}))

	r.app.Use(middleware.Metrics())

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		// The GIF beacon is embedded on third-party landing pages
		CrossOriginResourcePolicy: "cross-origin",
		XDNSPrefetchControl:       "off",
		XDownloadOptions:          "noopen",
		XPermittedCrossDomain:     "none",
	}))

	r.app.Use(cors.New(cors.Config{
		AllowOrigins:     r.cfg.Security.AllowedOrigins,
		AllowMethods:     r.cfg.Security.AllowedMethods,
		AllowHeaders:     r.cfg.Security.AllowedHeaders,
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: r.cfg.Security.AllowCredentials,
		MaxAge:           utils.CORSMaxAge,
	}))

	if r.cfg.Server.EnableCompression {
		r.app.Use(compress.New(compress.Config{
			Level: compress.LevelBestSpeed,
			Next: func(c fiber.Ctx) bool {
				return strings.HasPrefix(c.Path(), "/pixel.gif")
			},
		}))
	}

	if r.cfg.Logging.EnableAccessLog {
		r.app.Use(fiberlogger.New(fiberlogger.Config{
			Format:     `{"time":"${time}","pid":"${pid}","request_id":"${locals:requestid}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","user_agent":"${ua}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
			TimeFormat: time.RFC3339,
			TimeZone:   "UTC",
			Next: func(c fiber.Ctx) bool {
				return c.Path() == "/" || c.Path() == r.cfg.Metrics.Path
			},
		}))
	}
}

func (r *FiberRouter) rateLimiter(max int) fiber.Handler {
	if max <= 0 {
		return func(c fiber.Ctx) error { return c.Next() }
	}
	window := r.cfg.Security.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error:   dto.ErrorDetail{Code: "RATE_LIMIT_EXCEEDED"},
			})
		},
	})
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	r.logger.WithField("address", address).Info("Starting server")
	return r.app.Listen(address, fiber.ListenConfig{DisableStartupMessage: true})
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}

// Global error handler
func (r *FiberRouter) errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "An internal server error occurred"
	errCode := "INTERNAL_ERROR"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
		errCode = "HTTP_ERROR"
	}

	r.logger.WithError(err).WithFields(logrus.Fields{"status": code, "path": c.Path()}).Error("Request failed")

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: errCode,
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
