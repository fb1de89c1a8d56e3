package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	collectiondomain "github.com/smallbiznis/billingschedule/internal/collection/domain"
	"github.com/smallbiznis/billingschedule/internal/config"
	conversiondomain "github.com/smallbiznis/billingschedule/internal/conversion/domain"
	invoicedomain "github.com/smallbiznis/billingschedule/internal/invoice/domain"
	"github.com/smallbiznis/billingschedule/internal/observability"
	obslogger "github.com/smallbiznis/billingschedule/internal/observability/logger"
	obstracing "github.com/smallbiznis/billingschedule/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/billingschedule/internal/payment/domain"
	"github.com/smallbiznis/billingschedule/internal/providers/pdf"
	scheduledomain "github.com/smallbiznis/billingschedule/internal/schedule/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	pdf.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log, obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, log.Named("http"))
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.OpsHTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("ops server stopped", zap.String("addr", srv.Addr), zap.Error(err))
				}
			}()
			log.Info("ops server listening", zap.String("addr", srv.Addr))
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
	engine        *gin.Engine
	cfg           config.Config
	db            *gorm.DB
	log           *zap.Logger
	scheduleSvc   scheduledomain.Service
	invoiceSvc    invoicedomain.Service
	conversionSvc conversiondomain.Service
	collectionSvc collectiondomain.Service
	payments      paymentdomain.Repository
	pdf           pdf.Renderer
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	DB            *gorm.DB
	Log           *zap.Logger
	ScheduleSvc   scheduledomain.Service
	InvoiceSvc    invoicedomain.Service
	ConversionSvc conversiondomain.Service
	CollectionSvc collectiondomain.Service
	Payments      paymentdomain.Repository
	PDF           pdf.Renderer
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		log:           p.Log.Named("server"),
		scheduleSvc:   p.ScheduleSvc,
		invoiceSvc:    p.InvoiceSvc,
		conversionSvc: p.ConversionSvc,
		collectionSvc: p.CollectionSvc,
		payments:      p.Payments,
		pdf:           p.PDF,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	s.engine.GET("/healthz", s.Healthz)
	s.engine.GET("/readyz", s.Readyz)

	api := s.engine.Group("/api", APIKeyRequired(s.cfg.OpsAPIKeyHash))
	{
		api.POST("/contracts/:id/schedule", s.CreateScheduleForContract)
		api.GET("/contracts/:id/schedule", s.GetScheduleByContract)
		api.GET("/schedules/:id", s.GetSchedule)
		api.GET("/schedules/:id/entries", s.ListScheduleEntries)
		api.POST("/schedules/:id/plan", s.PlanSchedule)

		api.POST("/scheduled-invoices/:id/materialize", s.MaterializeScheduledInvoice)
		api.GET("/invoices/:id", s.GetInvoiceByID)
		api.GET("/invoices/:id/pdf", s.DownloadInvoicePDF)
		api.POST("/invoices/:id/convert", s.ConvertInvoice)
		api.POST("/payments/:id/notify", s.NotifyPayment)

		api.GET("/collection-metrics", s.LatestCollectionMetrics)
		api.POST("/collection-metrics", s.ComputeCollectionMetrics)
	}
}

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		s.log.Warn("readiness check failed", zap.Error(err))
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
