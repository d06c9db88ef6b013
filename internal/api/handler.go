// Package api exposes the risk core over HTTP: admission and fill ingestion
// on the hot path, account and target administration behind operator auth,
// Prometheus metrics and a websocket alert stream on the side.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"risk-core/internal/admission"
	"risk-core/internal/emergency"
	"risk-core/internal/events"
	"risk-core/internal/mode"
	"risk-core/internal/risk"
	"risk-core/pkg/db"
)

// Server wires HTTP endpoints around the risk core.
type Server struct {
	Router   *gin.Engine
	Bus      *events.Bus
	DB       *db.Database
	Accounts *risk.Manager
	Engine   *admission.Engine
	Modes    *mode.Machine
	Targets  *mode.Targets
	Stop     *emergency.Coordinator
	Registry *prometheus.Registry

	JWTSecret        string
	OperatorUser     string
	OperatorPassHash string
}

// Options carries the config-derived knobs the server needs.
type Options struct {
	JWTSecret        string
	OperatorUser     string
	OperatorPassHash string
	RequestTimeout   time.Duration
	CORSOrigins      []string
}

func NewServer(bus *events.Bus, database *db.Database, accounts *risk.Manager,
	engine *admission.Engine, modes *mode.Machine, targets *mode.Targets,
	stop *emergency.Coordinator, registry *prometheus.Registry, opts Options) *Server {

	r := gin.New()

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware(opts.CORSOrigins))

	s := &Server{
		Router:           r,
		Bus:              bus,
		DB:               database,
		Accounts:         accounts,
		Engine:           engine,
		Modes:            modes,
		Targets:          targets,
		Stop:             stop,
		Registry:         registry,
		JWTSecret:        opts.JWTSecret,
		OperatorUser:     opts.OperatorUser,
		OperatorPassHash: opts.OperatorPassHash,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Registry != nil {
		s.Router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))
	}

	api := s.Router.Group("/api/v1")
	{
		api.POST("/auth/login", s.login)

		// Hot path: order admission and fill ingestion.
		api.POST("/orders/evaluate", s.evaluateOrder)
		api.POST("/fills", s.recordFill)

		api.POST("/accounts", s.onboardAccount)
		api.GET("/accounts/:id", s.getAccount)
		api.GET("/accounts/:id/graduation", s.getGraduation)
		api.GET("/accounts/:id/emergencies", s.listEmergencies)

		api.GET("/accounts/:id/targets", s.listTargets)
		api.POST("/accounts/:id/targets", s.createTarget)
		api.PUT("/accounts/:id/targets/:tid/status", s.setTargetStatus)

		api.GET("/canaries", s.listCanaries)

		// Operator actions
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/accounts/:id/block", s.blockAccount)
			protected.POST("/accounts/:id/unlock", s.unlockAccount)
			protected.POST("/accounts/:id/emergency-stop", s.emergencyStop)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
