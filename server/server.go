// Package server exposes the engine over HTTP: task submission with
// server-sent event streaming, stream continuation, cancellation, agent
// discovery and metrics.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/engine"
	"github.com/taskmesh/taskmesh/logging"
)

// StreamIDHeader tells clients which stream id to use for continuation.
const StreamIDHeader = "X-Taskmesh-Stream-Id"

// Options configure the Server.
type Options struct {
	Logger logging.Logger
	// AllowOrigins configures CORS; defaults to allowing all origins.
	AllowOrigins []string
	// MetricsHandler serves GET /metrics; defaults to the global promhttp
	// handler.
	MetricsHandler http.Handler
}

// Server is the HTTP front of one engine.
type Server struct {
	engine *engine.Engine
	router *gin.Engine
	logger logging.Logger
}

// New builds the server and its routes.
func New(e *engine.Engine, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:         logging.NewDefaultLogger(),
		MetricsHandler: promhttp.Handler(),
	}
	for _, f := range optFns {
		f(&opts)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(opts.AllowOrigins) > 0 {
		corsCfg.AllowOrigins = opts.AllowOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	s := &Server{engine: e, router: router, logger: opts.Logger}

	router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	router.GET("/metrics", gin.WrapH(opts.MetricsHandler))

	v1 := router.Group("/v1")
	v1.POST("/tasks", s.submitTask)
	v1.GET("/tasks/:id", s.getTask)
	v1.DELETE("/tasks/:id", s.cancelTask)
	v1.GET("/streams/:id", s.continueStream)
	v1.GET("/agents", s.listAgents)

	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then drains with a bounded shutdown.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server.listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.engine.Shutdown()
	return srv.Shutdown(shutdownCtx)
}

type submitRequest struct {
	TaskID         string `json:"task_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) submitTask(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Code: string(core.CodeEmptyMessage), Message: "invalid request body"})
		return
	}

	task, ch, err := s.engine.Submit(c.Request.Context(), engine.SubmitRequest{
		TaskID:         req.TaskID,
		ConversationID: req.ConversationID,
		Input:          core.NewUserMessage(req.Message),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.Header(StreamIDHeader, task.ID)
	// Submit attached the consumer slot; free it when this client goes away
	// so a continuation can take over.
	defer ch.Detach()
	s.streamEvents(c, ch.Events())
}

func (s *Server) continueStream(c *gin.Context) {
	ch, err := s.engine.Streams().LookupLocal(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	// A live consumer keeps the stream; continuations never compete for
	// events, they take over after an explicit detach.
	if err := ch.Attach(); err != nil {
		s.writeError(c, err)
		return
	}
	defer ch.Detach()
	ch.Touch()
	s.streamEvents(c, ch.Events())
}

// streamEvents forwards task events as server-sent events until the stream
// closes.
func (s *Server) streamEvents(c *gin.Context, events <-chan core.Event) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(string(ev.Kind), ev)
		return true
	})
}

func (s *Server) getTask(c *gin.Context) {
	task, ok := s.engine.Task(c.Param("id"))
	if !ok {
		s.writeError(c, core.Errorf(core.CodeNotFound, "task %s not found", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) cancelTask(c *gin.Context) {
	if err := s.engine.Cancel(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) listAgents(c *gin.Context) {
	cards, err := s.engine.Cards()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": cards})
}

func (s *Server) writeError(c *gin.Context, err error) {
	code := core.CodeOf(err)
	c.JSON(httpStatus(code), errorBody{Code: string(code), Message: err.Error()})
}

// httpStatus maps stable error codes onto HTTP statuses.
func httpStatus(code core.Code) int {
	switch code {
	case core.CodeEmptyMessage, core.CodeContextUnresolvable:
		return http.StatusBadRequest
	case core.CodeNotFound, core.CodeStreamNotFound:
		return http.StatusNotFound
	case core.CodeStreamConflict:
		return http.StatusConflict
	case core.CodeRoutingDenied:
		return http.StatusForbidden
	case core.CodeConfigInvalid:
		return http.StatusUnprocessableEntity
	case core.CodeInferenceUnavailable, core.CodeToolUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
