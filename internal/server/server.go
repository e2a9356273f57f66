package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/flowglad/flowglad/internal/apikey"
	apikeydomain "github.com/flowglad/flowglad/internal/apikey/domain"
	"github.com/flowglad/flowglad/internal/authorization"
	"github.com/flowglad/flowglad/internal/cache"
	"github.com/flowglad/flowglad/internal/config"
	"github.com/flowglad/flowglad/internal/customer"
	"github.com/flowglad/flowglad/internal/events"
	"github.com/flowglad/flowglad/internal/identity"
	identitydomain "github.com/flowglad/flowglad/internal/identity/domain"
	"github.com/flowglad/flowglad/internal/ledger"
	"github.com/flowglad/flowglad/internal/migration"
	"github.com/flowglad/flowglad/internal/observability"
	obslogger "github.com/flowglad/flowglad/internal/observability/logger"
	obstracing "github.com/flowglad/flowglad/internal/observability/tracing"
	"github.com/flowglad/flowglad/internal/organization"
	"github.com/flowglad/flowglad/internal/pricing"
	pricingdomain "github.com/flowglad/flowglad/internal/pricing/domain"
	"github.com/flowglad/flowglad/internal/ratelimit"
	"github.com/flowglad/flowglad/internal/session"
	sessiondomain "github.com/flowglad/flowglad/internal/session/domain"
	"github.com/flowglad/flowglad/internal/transaction"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	events.Module,
	cache.Module,
	session.Module,
	apikey.Module,
	customer.Module,
	identity.Module,
	ledger.Module,
	organization.Module,
	pricing.Module,
	ratelimit.Module,
	transaction.Module,
	migration.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obsCfg.Debug()))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	genID      *snowflake.Node
	runner     *transaction.Runner
	sessions   *session.Manager
	store      sessiondomain.Store
	apiKeySvc  apikeydomain.Service
	pricingSvc pricingdomain.Service
	authzSvc   authorization.Service
	limiter    *ratelimit.APILimiter
	resolver   identitydomain.Resolver
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	GenID      *snowflake.Node
	Runner     *transaction.Runner
	Sessions   *session.Manager
	Store      sessiondomain.Store
	APIKeySvc  apikeydomain.Service
	PricingSvc pricingdomain.Service
	AuthzSvc   authorization.Service
	Limiter    *ratelimit.APILimiter `optional:"true"`
	Resolver   identitydomain.Resolver
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		genID:      p.GenID,
		runner:     p.Runner,
		sessions:   p.Sessions,
		store:      p.Store,
		apiKeySvc:  p.APIKeySvc,
		pricingSvc: p.PricingSvc,
		authzSvc:   p.AuthzSvc,
		limiter:    p.Limiter,
		resolver:   p.Resolver,
	}

	svc.registerAPIRoutes()
	svc.registerDashboardRoutes()
	svc.registerPortalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerAPIRoutes wires the machine surface: API-key callers only.
func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1", s.RateLimited(), s.AuthContext(identitydomain.AuthScopeDefault))

	v1.GET("/pricing-models/:id", s.GetPricingModel)
	v1.POST("/pricing-models", s.CreatePricingModel)
	v1.PUT("/pricing-models/:id", s.UpdatePricingModel)
}

// registerDashboardRoutes wires the merchant webapp surface.
func (s *Server) registerDashboardRoutes() {
	dash := s.engine.Group("/dashboard", s.RateLimited(), s.AuthContext(identitydomain.AuthScopeMerchant))

	dash.GET("/pricing-models/:id", s.GetPricingModel)
	dash.POST("/pricing-models", s.CreatePricingModel)
	dash.PUT("/pricing-models/:id", s.UpdatePricingModel)

	dash.GET("/api-keys", s.ListAPIKeys)
	dash.POST("/api-keys", s.CreateAPIKey)
	dash.POST("/api-keys/:keyID/rotate", s.RotateAPIKey)
	dash.DELETE("/api-keys/:keyID", s.RevokeAPIKey)
}

// registerPortalRoutes wires the customer-facing surface.
func (s *Server) registerPortalRoutes() {
	portal := s.engine.Group("/portal", s.RateLimited(), s.AuthContext(identitydomain.AuthScopeCustomer))

	portal.GET("/pricing", s.GetPortalPricing)
}
