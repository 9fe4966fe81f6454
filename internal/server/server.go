/**
 * HTTP trigger for the PNR autofill pipeline
 *
 * Lets the operator console start a run, preview a decision without touching
 * the form, and read back the audit trail.
 */

package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adverant/nexus/pnrfill-worker/internal/capture"
	cerrors "github.com/adverant/nexus/pnrfill-worker/internal/errors"
	"github.com/adverant/nexus/pnrfill-worker/internal/fields"
	"github.com/adverant/nexus/pnrfill-worker/internal/fillplan"
	"github.com/adverant/nexus/pnrfill-worker/internal/logging"
	"github.com/adverant/nexus/pnrfill-worker/internal/pipeline"
	"github.com/adverant/nexus/pnrfill-worker/internal/rules"
	"github.com/adverant/nexus/pnrfill-worker/internal/storage"
)

// Pipeline is the controller surface the server drives.
type Pipeline interface {
	Run(ctx context.Context, req *pipeline.RunRequest) (*pipeline.RunResult, error)
	Preview(req *pipeline.RunRequest) *pipeline.RunResult
	ActiveRun() (string, bool)
}

// CaptureLoader decodes uploaded captures.
type CaptureLoader interface {
	Load(ctx context.Context, data []byte, origin capture.Origin) (*capture.RawCapture, error)
}

// RunStore reads the audit trail.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*storage.RunRecord, error)
	RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error)
}

// Config wires the server.
type Config struct {
	Pipeline       Pipeline
	Loader         CaptureLoader
	Store          RunStore     // optional
	MetricsHandler http.Handler // optional
}

// Server is the gin engine plus its collaborators.
type Server struct {
	engine *gin.Engine
	cfg    Config
	logger *logging.Logger
}

// RunBody is the JSON body of POST /v1/runs and POST /v1/decisions. Capture
// is base64 in JSON: an image or a span document.
type RunBody struct {
	Capture    []byte                   `json:"capture" binding:"required"`
	Correction *rules.CorrectionRequest `json:"correction,omitempty"`
	Source     string                   `json:"source,omitempty"`
}

// DecisionResponse is the body of POST /v1/decisions.
type DecisionResponse struct {
	Decision *rules.Decision  `json:"decision"`
	Plan     *fillplan.Plan   `json:"plan,omitempty"`
	Fields   *fields.Map      `json:"fields,omitempty"`
	Summary  pipeline.Summary `json:"summary"`
}

type errorResponse struct {
	Error   string                 `json:"error"`
	Kind    string                 `json:"kind,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// New builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.Loader == nil {
		return nil, errors.New("loader is required")
	}

	s := &Server{engine: gin.New(), cfg: cfg, logger: logging.NewLogger("HTTP")}
	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.GET("/healthz", s.health)
	if cfg.MetricsHandler != nil {
		s.engine.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	v1 := s.engine.Group("/v1")
	v1.POST("/runs", s.startRun)
	v1.POST("/decisions", s.previewDecision)
	if cfg.Store != nil {
		v1.GET("/runs", s.listRuns)
		v1.GET("/runs/:id", s.getRun)
	}
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.logger.Info("HTTP trigger listening", "addr", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"durationMs", time.Since(start).Milliseconds())
	}
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if id, ok := s.cfg.Pipeline.ActiveRun(); ok {
		body["activeRun"] = id
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) request(c *gin.Context) (*pipeline.RunRequest, bool) {
	var body RunBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return nil, false
	}
	source := body.Source
	if source == "" {
		source = "http"
	}
	capt, err := s.cfg.Loader.Load(c.Request.Context(), body.Capture, capture.Origin{Source: source})
	if err != nil {
		s.fail(c, err)
		return nil, false
	}
	return &pipeline.RunRequest{Capture: capt, Correction: body.Correction, Source: source}, true
}

func (s *Server) startRun(c *gin.Context) {
	req, ok := s.request(c)
	if !ok {
		return
	}
	result, err := s.cfg.Pipeline.Run(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if result.Err != nil {
		status = cerrors.HTTPStatus(cerrors.KindOf(result.Err))
	}
	c.JSON(status, result.Summary())
}

func (s *Server) previewDecision(c *gin.Context) {
	req, ok := s.request(c)
	if !ok {
		return
	}
	result := s.cfg.Pipeline.Preview(req)
	if result.Decision == nil {
		s.fail(c, result.Err)
		return
	}
	c.JSON(http.StatusOK, DecisionResponse{
		Decision: result.Decision,
		Plan:     result.Plan,
		Fields:   result.FieldMap,
		Summary:  result.Summary(),
	})
}

func (s *Server) getRun(c *gin.Context) {
	rec, err := s.cfg.Store.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, recordView(rec))
}

func (s *Server) listRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := s.cfg.Store.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	out := make([]gin.H, 0, len(runs))
	for i := range runs {
		out = append(out, recordView(&runs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) fail(c *gin.Context, err error) {
	if err == nil {
		err = errors.New("run produced no result")
	}
	var pe *cerrors.PipelineError
	if errors.As(err, &pe) {
		status := cerrors.HTTPStatus(pe.Kind)
		if status == http.StatusOK {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, errorResponse{Error: pe.Message, Kind: string(pe.Kind), Details: pe.Details})
		return
	}
	c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func recordView(r *storage.RunRecord) gin.H {
	return gin.H{
		"runId":             r.RunID,
		"captureId":         r.CaptureID,
		"source":            r.Source,
		"startedAt":         r.StartedAt,
		"durationMs":        r.DurationMs,
		"exitCode":          r.ExitCode,
		"outcome":           r.Outcome,
		"tool":              r.Tool,
		"reason":            r.Reason,
		"guard":             r.Guard,
		"errorKind":         r.ErrorKind,
		"completionPercent": r.CompletionPercent,
		"failedFields":      r.FailedFields,
		"skippedFields":     r.SkippedFields,
	}
}
