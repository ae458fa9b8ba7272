package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/homeserve/internal/billingschedule"
	"github.com/smallbiznis/homeserve/internal/booking"
	"github.com/smallbiznis/homeserve/internal/catalog"
	"github.com/smallbiznis/homeserve/internal/checkout"
	checkoutdomain "github.com/smallbiznis/homeserve/internal/checkout/domain"
	"github.com/smallbiznis/homeserve/internal/config"
	"github.com/smallbiznis/homeserve/internal/coupon"
	"github.com/smallbiznis/homeserve/internal/gateway"
	"github.com/smallbiznis/homeserve/internal/notification"
	"github.com/smallbiznis/homeserve/internal/observability"
	obsmiddleware "github.com/smallbiznis/homeserve/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/homeserve/internal/observability/metrics"
	obstracing "github.com/smallbiznis/homeserve/internal/observability/tracing"
	"github.com/smallbiznis/homeserve/internal/pricing"
	"github.com/smallbiznis/homeserve/internal/providers"
	"github.com/smallbiznis/homeserve/internal/ratelimit"
	"github.com/smallbiznis/homeserve/internal/reconcile"
	"github.com/smallbiznis/homeserve/internal/webhook"
	webhookdomain "github.com/smallbiznis/homeserve/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultHTTPAddr = ":8080"

var Module = fx.Module("http.server",
	catalog.Module,
	coupon.Module,
	booking.Module,
	pricing.Module,
	billingschedule.Module,
	gateway.Module,
	ratelimit.Module,
	providers.Module,
	notification.Module,
	webhook.Module,
	reconcile.Module,
	checkout.Module,
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = defaultHTTPAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
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
	engine      *gin.Engine
	log         *zap.Logger
	checkoutSvc checkoutdomain.Service
	webhookSvc  webhookdomain.Service
	limiter     *ratelimit.Limiter
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Log         *zap.Logger
	CheckoutSvc checkoutdomain.Service
	WebhookSvc  webhookdomain.Service
	Limiter     *ratelimit.Limiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		log:         p.Log.Named("http.server"),
		checkoutSvc: p.CheckoutSvc,
		webhookSvc:  p.WebhookSvc,
		limiter:     p.Limiter,
	}

	svc.registerCheckoutRoutes()
	svc.registerWebhookRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerCheckoutRoutes() {
	v1 := s.engine.Group("/v1")

	// -------- Checkout --------
	v1.POST("/checkout/quote", s.QuoteCheckout)
	v1.POST("/checkout/sessions", s.CheckoutRateLimit(), s.CreateCheckoutSession)
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")

	hooks.POST("/stripe", s.HandleStripeWebhook)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: errorPayload{
			Type:    "not_found",
			Message: "not found",
		}})
	})
}
