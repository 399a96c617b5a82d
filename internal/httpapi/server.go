// Package httpapi exposes the run registry over HTTP: starting runs,
// listing them, fetching records and report documents, and cancelling or
// evicting runs.
package httpapi

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"delphi/internal/delphi"
	"delphi/internal/registry"
	"delphi/internal/store"
)

// Server wires the registry into a gin router.
type Server struct {
	registry *registry.Registry
	logger   *zap.Logger
	router   *gin.Engine
}

// NewServer builds the HTTP control surface.
func NewServer(reg *registry.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{registry: reg, logger: logger, router: gin.New()}
	s.router.Use(gin.Recovery())

	api := s.router.Group("/api")
	{
		api.POST("/runs", s.startRun)
		api.GET("/runs", s.listRuns)
		api.GET("/runs/:id", s.getRun)
		api.GET("/runs/:id/report", s.getReport)
		api.DELETE("/runs/:id", s.deleteRun)
	}
	s.router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	return s
}

// Router exposes the underlying handler for tests and embedding.
func (s *Server) Router() http.Handler { return s.router }

// Run starts serving on addr, blocking until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info("http control surface listening", zap.String("addr", addr))
	return s.router.Run(addr)
}

type startRunRequest struct {
	Question    string   `json:"question" binding:"required"`
	Context     string   `json:"context"`
	Constraints []string `json:"constraints"`
	ExpertCount int      `json:"expert_count"`
	MaxRounds   int      `json:"max_rounds"`
}

func (s *Server) startRun(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.registry.Launch(registry.RunParams{
		Prompt: delphi.Prompt{
			Question:    req.Question,
			Context:     req.Context,
			Constraints: req.Constraints,
		},
		ExpertCount: req.ExpertCount,
		MaxRounds:   req.MaxRounds,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": id})
}

func (s *Server) listRuns(c *gin.Context) {
	runs, err := s.registry.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) getRun(c *gin.Context) {
	rec, err := s.registry.Get(c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// getReport serves the persisted JSON report document of a completed run.
func (s *Server) getReport(c *gin.Context) {
	rec, err := s.registry.Get(c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if rec.Status != store.StatusCompleted || rec.ReportJSON == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "run has no report", "status": rec.Status})
		return
	}
	payload, err := os.ReadFile(rec.ReportJSON)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", payload)
}

// deleteRun cancels an active run, or evicts a terminal one.
func (s *Server) deleteRun(c *gin.Context) {
	id := c.Param("id")
	if s.registry.Cancel(id) {
		c.JSON(http.StatusOK, gin.H{"cancelled": id})
		return
	}
	if err := s.registry.Evict(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"evicted": id})
}
