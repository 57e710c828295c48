// Package server exposes the question answering pipeline over HTTP.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"lawbot/internal/config"
	"lawbot/internal/domain"
	"lawbot/internal/logger"
	"lawbot/internal/qa"
)

const RequestIDHeader = "X-Request-ID"

// maxQuestionBytes bounds the request body.
const maxQuestionBytes = 64 << 10

type AnswerRequest struct {
	Question string `json:"question"`
}

type Source struct {
	Source   string  `json:"source"`
	Page     int     `json:"page,omitempty"`
	Offset   int     `json:"offset"`
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
}

type AnswerResponse struct {
	Answer   string   `json:"answer"`
	Declined bool     `json:"declined"`
	Model    string   `json:"model"`
	Sources  []Source `json:"sources,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
}

// Server owns the gin engine and the http.Server around it.
type Server struct {
	svc    domain.QAService
	cfg    config.ServerConfig
	engine *gin.Engine
}

// New builds the router. serviceName names the otel spans.
func New(svc domain.QAService, cfg config.ServerConfig, serviceName string) *Server {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(requestLogger())
	router.Use(otelgin.Middleware(serviceName))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", RequestIDHeader}
	corsConfig.ExposeHeaders = []string{RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	s := &Server{svc: svc, cfg: cfg, engine: router}
	router.GET("/healthz", s.health)
	router.POST("/v1/answer", s.answer)
	return s
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
}

func (s *Server) answer(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxQuestionBytes)
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, "invalid_request", "Request body must be JSON with a question field.", err.Error())
		return
	}

	ans, err := s.svc.Answer(c.Request.Context(), req.Question)
	if err != nil {
		f := qa.Classify(err)
		logger.Warn("Answer failed", "request_id", GetRequestID(c), "code", f.Code, "error", err)
		RespondWithError(c, statusFor(f.Code), f.Code, f.Message, "")
		return
	}

	resp := AnswerResponse{Answer: ans.Text, Declined: ans.Declined, Model: ans.Model}
	for _, h := range ans.Sources {
		resp.Sources = append(resp.Sources, Source{
			Source:   h.Fragment.Source,
			Page:     h.Fragment.Page,
			Offset:   h.Fragment.Offset,
			Text:     h.Fragment.Text,
			Distance: h.Distance,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func statusFor(code string) int {
	switch code {
	case "empty_question":
		return http.StatusBadRequest
	case "question_too_long":
		return http.StatusRequestEntityTooLarge
	case "no_knowledge_base", "index_incompatible":
		return http.StatusServiceUnavailable
	case "generation_failed":
		return http.StatusBadGateway
	case "timeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithError writes an ErrorResponse and aborts the chain.
func RespondWithError(c *gin.Context, status int, code, message, details string) {
	c.AbortWithStatusJSON(status, ErrorResponse{ErrorCode: code, Message: message, Details: details})
}

// RequestIDMiddleware reuses the caller's X-Request-ID or generates one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = generateRequestID()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(c *gin.Context) string {
	if id, ok := c.Get("request_id"); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", GetRequestID(c),
		)
	}
}
