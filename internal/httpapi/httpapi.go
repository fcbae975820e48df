// Package httpapi exposes the operator surface (spec.md §6.8) over HTTP:
// ingestion runs, query processing, conversation history, and validation
// reports. Routing follows the teacher's gin setup (gin.New + Logger +
// Recovery + a permissive CORS middleware, grouped under /api/v1).
package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"regulatory-rag-core/internal/appdb"
	"regulatory-rag-core/internal/ingest"
	"regulatory-rag-core/internal/observability"
	"regulatory-rag-core/internal/retrieval"
	"regulatory-rag-core/internal/validation"
)

// IngestService runs full or single-unit ingestion. cmd/regctl supplies the
// concrete implementation, closing over the registry and per-family
// fetchers that httpapi itself has no business knowing about.
type IngestService interface {
	RunBatch(ctx context.Context, families []string) (ingest.BatchPipelineResult, error)
	RunUnit(ctx context.Context, family, identifier string) (ingest.UnitResult, error)
}

// Server holds the dependencies the operator surface routes need.
type Server struct {
	ingest    IngestService
	retrieval *retrieval.Pipeline
	validator *validation.Checker
	db        appdb.Interface
	logger    *zap.Logger
	promReg   *prometheus.Registry
}

func New(ingestSvc IngestService, retrievalPipeline *retrieval.Pipeline, validator *validation.Checker, db appdb.Interface, logger *zap.Logger) *Server {
	return &Server{ingest: ingestSvc, retrieval: retrievalPipeline, validator: validator, db: db, logger: logger}
}

// WithPrometheusRegistry exposes reg's gathered metrics at GET /metrics. A
// nil registry (the zero value from New) leaves that route unregistered.
func (s *Server) WithPrometheusRegistry(reg *prometheus.Registry) *Server {
	s.promReg = reg
	return s
}

// Router builds the gin engine. Exported separately from New so tests can
// wire a Server against fakes without binding a port.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "regulatory-rag-core"})
	})
	if s.promReg != nil {
		r.GET("/metrics", gin.WrapH(observability.Handler(s.promReg)))
	}

	api := r.Group("/api/v1")
	{
		api.POST("/ingest", s.handleIngestRun)
		api.POST("/ingest/unit", s.handleIngestUnit)
		api.POST("/query", s.handleQuery)
		api.GET("/conversations/:id", s.handleGetConversation)
		api.GET("/conversations", s.handleListConversations)
		api.GET("/validation/coverage", s.handleCoverage)
		api.GET("/validation/report", s.handleValidationReport)
	}
	return r
}

type ingestRunRequest struct {
	Families []string `json:"families" binding:"required"`
}

func (s *Server) handleIngestRun(c *gin.Context) {
	var req ingestRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.ingest.RunBatch(c.Request.Context(), req.Families)
	if err != nil {
		s.logger.Error("ingest run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type ingestUnitRequest struct {
	Family     string `json:"family" binding:"required"`
	Identifier string `json:"identifier" binding:"required"`
}

func (s *Server) handleIngestUnit(c *gin.Context) {
	var req ingestUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.ingest.RunUnit(c.Request.Context(), req.Family, req.Identifier)
	if err != nil {
		s.logger.Error("ingest unit failed", zap.String("family", req.Family), zap.String("identifier", req.Identifier), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

type queryRequest struct {
	Question       string `json:"question" binding:"required"`
	Address        string `json:"address"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.retrieval.ProcessQuery(c.Request.Context(), req.ConversationID, req.Question, req.Address)
	if err != nil {
		s.logger.Error("process query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetConversation(c *gin.Context) {
	conv, err := s.db.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleListConversations(c *gin.Context) {
	userID := c.Query("user_id")
	limit := 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	convs, err := s.db.ListConversations(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) handleCoverage(c *gin.Context) {
	report, err := s.validator.CheckCoverage(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleValidationReport implements format_report(markdown|json): the
// query param `format` selects structured JSON (default) or the tabular
// human-readable rendering.
func (s *Server) handleValidationReport(c *gin.Context) {
	full, err := s.validator.GenerateFullValidationReport(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if c.Query("format") == "markdown" {
		c.String(http.StatusOK, validation.RenderHumanReadable(full))
		return
	}
	c.JSON(http.StatusOK, full)
}
