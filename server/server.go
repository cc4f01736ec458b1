// Package server exposes the pipeline over HTTP with gin.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"github.com/redevil1/rembg-gui/health"
	"github.com/redevil1/rembg-gui/pipeline"
)

const requestIDHeader = "X-Request-Id"

// multipartOverhead leaves room for form boundaries and headers on top of the
// configured upload limit.
const multipartOverhead = 1 << 20

// Service is the pipeline as seen by the handlers.
type Service interface {
	RemoveBackground(ctx context.Context, data []byte) (string, error)
	AddBackground(ctx context.Context, req pipeline.AddBackgroundRequest) (string, error)
	Limits() pipeline.Limits
}

// StatusReporter reports the segmentation backend health.
type StatusReporter interface {
	Status() health.Status
}

type Server struct {
	svc    Service
	status StatusReporter
	engine *gin.Engine
}

// Response is the envelope of every API reply.
type Response struct {
	Success bool   `json:"success"`
	Image   string `json:"image,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// New wires the routes. status may be nil, in which case /healthz always
// reports healthy.
func New(svc Service, status StatusReporter) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{svc: svc, status: status, engine: gin.New()}
	s.engine.MaxMultipartMemory = svc.Limits().MaxUploadBytes + multipartOverhead
	s.engine.Use(requestLogger(), gin.CustomRecovery(recoverToEnvelope))

	api := s.engine.Group("/api")
	api.POST("/remove-background", s.removeBackground)
	api.POST("/add-background", s.addBackground)
	s.engine.GET("/healthz", s.healthz)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) removeBackground(c *gin.Context) {
	limits := s.svc.Limits()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limits.MaxUploadBytes+multipartOverhead)

	fh, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(c, limits.CheckUpload(limits.MaxUploadBytes+1))
			return
		}
		s.fail(c, &pipeline.Error{Kind: pipeline.KindCaller, Code: pipeline.NoImageProvided, Message: "No image provided", Err: err})
		return
	}
	if err := limits.CheckUpload(fh.Size); err != nil {
		s.fail(c, err)
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, err)
		return
	}
	defer func() {
		_ = f.Close()
	}()
	data, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, err)
		return
	}

	zerolog.Ctx(c.Request.Context()).Info().
		Str("filename", fh.Filename).
		Int("bytes", len(data)).
		Msg("removing background")

	img, err := s.svc.RemoveBackground(c.Request.Context(), data)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Image: img})
}

func (s *Server) addBackground(c *gin.Context) {
	limits := s.svc.Limits()
	// Two base64 payloads, each up to the upload limit.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 3*limits.MaxUploadBytes+multipartOverhead)

	var req pipeline.AddBackgroundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(c, limits.CheckUpload(limits.MaxUploadBytes+1))
			return
		}
		s.fail(c, &pipeline.Error{Kind: pipeline.KindCaller, Code: pipeline.InvalidRequestBody, Message: "Request body must be a JSON object", Err: err})
		return
	}

	zerolog.Ctx(c.Request.Context()).Info().
		Bool("color", req.BackgroundColor != "").
		Bool("image", req.BackgroundImage != "").
		Msg("adding background")

	img, err := s.svc.AddBackground(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Image: img})
}

func (s *Server) healthz(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, health.Status{Healthy: true, CheckedAt: time.Now()})
		return
	}
	st := s.status.Status()
	code := http.StatusOK
	if !st.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}

func (s *Server) fail(c *gin.Context, err error) {
	pe := pipeline.AsError(err)
	l := zerolog.Ctx(c.Request.Context())

	switch pe.Kind {
	case pipeline.KindCaller:
		l.Info().Err(err).Str("code", string(pe.Code)).Msg("rejected request")
	default:
		l.Error().Err(err).Str("code", string(pe.Code)).Str("kind", pe.Kind.String()).Msg("request failed")
	}

	c.AbortWithStatusJSON(statusFor(pe), Response{Success: false, Error: pe.Message, Code: string(pe.Code)})
}

func statusFor(pe *pipeline.Error) int {
	switch {
	case pe.Code == pipeline.FileTooLarge:
		return http.StatusRequestEntityTooLarge
	case pe.Kind == pipeline.KindCaller:
		return http.StatusBadRequest
	case pe.Code == pipeline.SegmentationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func recoverToEnvelope(c *gin.Context, recovered any) {
	zerolog.Ctx(c.Request.Context()).Error().Interface("panic", recovered).Msg("handler panicked")
	c.AbortWithStatusJSON(http.StatusInternalServerError, Response{
		Success: false,
		Error:   "internal error",
		Code:    string(pipeline.InternalError),
	})
}

// requestLogger tags every request with a ksuid, stores a child logger in the
// request context and writes one access log line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = ksuid.New().String()
		}
		c.Header(requestIDHeader, id)

		l := log.With().Str("requestId", id).Logger()
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		start := time.Now()
		c.Next()

		l.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request handled")
	}
}
