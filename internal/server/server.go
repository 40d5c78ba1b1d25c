package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/repricer/internal/applier"
	auditdomain "github.com/smallbiznis/repricer/internal/audit/domain"
	"github.com/smallbiznis/repricer/internal/config"
	"github.com/smallbiznis/repricer/internal/outbox"
	ruledomain "github.com/smallbiznis/repricer/internal/rule/domain"
	rundomain "github.com/smallbiznis/repricer/internal/run/domain"
	"github.com/smallbiznis/repricer/internal/scheduler"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func registerGin(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestID())
	engine.Use(RequestLogger(log))
	engine.Use(ErrorHandlingMiddleware())
	return engine
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server started", zap.String("addr", cfg.HTTPAddr))
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
	log        *zap.Logger
	genID      *snowflake.Node
	ruleSvc    ruledomain.Service
	runRepo    rundomain.Repository
	auditSvc   auditdomain.Service
	scheduler  *scheduler.Scheduler
	worker     *applier.Worker
	dispatcher *outbox.Dispatcher
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	RuleSvc    ruledomain.Service
	RunRepo    rundomain.Repository
	AuditSvc   auditdomain.Service
	Scheduler  *scheduler.Scheduler `optional:"true"`
	Worker     *applier.Worker      `optional:"true"`
	Dispatcher *outbox.Dispatcher   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("server"),
		genID:      p.GenID,
		ruleSvc:    p.RuleSvc,
		runRepo:    p.RunRepo,
		auditSvc:   p.AuditSvc,
		scheduler:  p.Scheduler,
		worker:     p.Worker,
		dispatcher: p.Dispatcher,
	}
}

func registerRoutes(s *Server) {
	r := s.engine

	r.GET("/health", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(s.OrgContext())
	{
		v1.POST("/rules", s.CreateRule)
		v1.GET("/rules", s.ListRules)
		v1.GET("/rules/:id", s.GetRule)
		v1.PATCH("/rules/:id", s.UpdateRule)
		v1.DELETE("/rules/:id", s.DeleteRule)
		v1.POST("/rules/:id/trigger", s.TriggerRule)

		v1.GET("/runs/status", s.RunStatus)
		v1.GET("/runs/:id", s.GetRun)

		v1.GET("/audit-logs", s.ListAuditLogs)
	}
}

// Health reports process liveness plus the outbox delivery backlog.
func (s *Server) Health(c *gin.Context) {
	payload := gin.H{"status": "ok"}
	status := http.StatusOK

	if s.dispatcher != nil {
		health, err := s.dispatcher.Health(c.Request.Context())
		if err != nil {
			payload["status"] = "degraded"
			payload["outbox"] = gin.H{"error": err.Error()}
			status = http.StatusServiceUnavailable
		} else {
			payload["outbox"] = gin.H{
				"pending":             health.Pending,
				"failed":              health.Failed,
				"dead_letter":         health.DeadLetter,
				"backlog_age_seconds": health.BacklogAge.Seconds(),
				"healthy":             health.Healthy,
			}
			if !health.Healthy {
				payload["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
		}
	}

	c.JSON(status, payload)
}
