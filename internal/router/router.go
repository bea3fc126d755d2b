package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/rx-ledger/internal/handler/audit"
	"github.com/jwalitptl/rx-ledger/internal/handler/directory"
	"github.com/jwalitptl/rx-ledger/internal/handler/doctor"
	"github.com/jwalitptl/rx-ledger/internal/handler/health"
	"github.com/jwalitptl/rx-ledger/internal/handler/metrics"
	"github.com/jwalitptl/rx-ledger/internal/handler/notification"
	"github.com/jwalitptl/rx-ledger/internal/handler/prescription"
	"github.com/jwalitptl/rx-ledger/internal/middleware"
	"github.com/jwalitptl/rx-ledger/internal/model"
)

type Handlers struct {
	Prescription *prescription.Handler
	Notification *notification.Handler
	Doctor       *doctor.Handler
	Directory    *directory.Handler
	Audit        *audit.Handler
	Health       *health.Handler
	Metrics      *metrics.Handler
}

type RouterConfig struct {
	// RateLimiter is nil when rate limiting is disabled.
	RateLimiter    *middleware.RateLimiter
	CORSConfig     middleware.CORSConfig
	SecurityConfig middleware.SecurityConfig
	SizeLimit      middleware.SizeLimitConfig
	RequestTimeout time.Duration
	MetricsPath    string
	ReleaseMode    bool
}

type Router struct {
	engine *gin.Engine
	auth   *middleware.AuthMiddleware
	h      Handlers
	config RouterConfig
}

func NewRouter(auth *middleware.AuthMiddleware, h Handlers, config RouterConfig) *Router {
	if config.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.SizeLimit.MaxBodySize <= 0 {
		config.SizeLimit = middleware.DefaultSizeLimitConfig()
	}
	middleware.RegisterValidators()

	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	// RequestID runs first so every later middleware, including recovery,
	// can report the id.
	core := []gin.HandlerFunc{
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Recovery(),
	}
	if h.Metrics != nil {
		core = append(core, h.Metrics.Middleware())
	}
	core = append(core,
		middleware.SecurityHeaders(config.SecurityConfig),
		middleware.CORS(config.CORSConfig),
	)
	engine.Use(core...)

	return &Router{engine: engine, auth: auth, h: h, config: config}
}

func (r *Router) Setup() {
	if r.h.Health != nil {
		r.h.Health.RegisterRoutes(r.engine)
	}
	if r.h.Metrics != nil {
		r.engine.GET(r.config.MetricsPath, r.h.Metrics.Handler())
	}

	api := r.engine.Group("/api")
	api.Use(
		middleware.NoStore(),
		middleware.SizeLimit(r.config.SizeLimit),
		middleware.Timeout(r.config.RequestTimeout),
	)
	if r.config.RateLimiter != nil {
		api.Use(r.config.RateLimiter.RateLimit())
	}

	// Public routes
	r.h.Prescription.RegisterPublicRoutes(api)

	// Protected routes
	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	r.setupProtectedRoutes(protected)
}

func (r *Router) setupProtectedRoutes(rg *gin.RouterGroup) {
	r.h.Prescription.RegisterRoutes(rg, r.auth.RequireRole)

	if r.h.Notification != nil {
		r.h.Notification.RegisterRoutes(rg)
	}
	if r.h.Doctor != nil {
		keys := rg.Group("")
		keys.Use(r.auth.RequireRole(model.RoleDoctor, model.RoleAdmin))
		r.h.Doctor.RegisterRoutes(keys)
	}
	if r.h.Directory != nil {
		r.h.Directory.RegisterRoutes(rg)
	}
	if r.h.Audit != nil {
		admin := rg.Group("/admin")
		admin.Use(r.auth.RequireRole(model.RoleAdmin))
		r.h.Audit.RegisterRoutes(admin)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
