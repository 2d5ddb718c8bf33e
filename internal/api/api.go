// Package api exposes the create calls over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopmonkeyus/entitydb/internal"
	"github.com/shopmonkeyus/entitydb/internal/registry"
	"github.com/shopmonkeyus/entitydb/internal/service"
	"github.com/shopmonkeyus/go-common/logger"
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackContentType is the content type for msgpack request and response bodies.
const MsgpackContentType = "application/msgpack"

// ErrorResponse is the body returned for a failed request.
type ErrorResponse struct {
	Error string `json:"error" msgpack:"error"`
	Code  string `json:"code" msgpack:"code"`
	Field string `json:"field,omitempty" msgpack:"field,omitempty"`
	Value any    `json:"value,omitempty" msgpack:"value,omitempty"`
}

// Server routes the HTTP requests to the service.
type Server struct {
	logger  logger.Logger
	service *service.Service
	engine  *gin.Engine
}

// New returns a server with every route registered.
func New(log logger.Logger, svc *service.Service) *Server {
	s := &Server{
		logger:  log.WithPrefix("[api]"),
		service: svc,
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.GET("/health", s.health)
	s.engine.GET("/status", s.status)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	{
		v1.GET("/schema", s.schema)
		v1.GET("/backends", s.backends)
		v1.POST("/:entity/create", s.create)
		v1.POST("/:entity/createMany", s.createMany)
		v1.POST("/:entity/createManyAndReturn", s.createManyAndReturn)
	}
	return s
}

// Handler returns the http handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(started))
	}
}

func wantsMsgpack(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), MsgpackContentType)
}

// respond encodes the body as msgpack when the client accepts it and json otherwise.
func (s *Server) respond(c *gin.Context, status int, body any) {
	if wantsMsgpack(c) {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetCustomStructTag("json")
		if err := enc.Encode(body); err != nil {
			s.logger.Error("error encoding msgpack response: %s", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "internal"})
			return
		}
		c.Data(status, MsgpackContentType, buf.Bytes())
		return
	}
	c.JSON(status, body)
}

// decode reads a json or msgpack request body. Numbers are kept exact so integer fields are not
// rounded through float64.
func decode(c *gin.Context, v any) error {
	if strings.HasPrefix(c.ContentType(), MsgpackContentType) {
		dec := msgpack.NewDecoder(c.Request.Body)
		dec.UseLooseInterfaceDecoding(true)
		dec.SetCustomStructTag("json")
		return dec.Decode(v)
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// errorResponse maps an error onto the http status and body.
func errorResponse(err error) (int, ErrorResponse) {
	res := ErrorResponse{Error: err.Error(), Code: internal.ErrorCode(err)}
	var unknownEntity *internal.UnknownEntityError
	if errors.As(err, &unknownEntity) {
		return http.StatusNotFound, res
	}
	var verr internal.ValidationError
	if errors.As(err, &verr) {
		res.Field = verr.Field()
		return http.StatusBadRequest, res
	}
	var unique *internal.UniqueConstraintError
	if errors.As(err, &unique) {
		res.Field = unique.Field
		res.Value = unique.Value
		return http.StatusConflict, res
	}
	if internal.IsDanglingReferenceError(err) {
		return http.StatusNotFound, res
	}
	if internal.IsBackendUnavailableError(err) {
		return http.StatusServiceUnavailable, res
	}
	return http.StatusInternalServerError, res
}

func (s *Server) fail(c *gin.Context, err error) {
	status, res := errorResponse(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("%s %s: %s", c.Request.Method, c.Request.URL.Path, err)
	}
	s.respond(c, status, res)
}

func (s *Server) badRequest(c *gin.Context, err error) {
	s.respond(c, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Code: "invalid_request"})
}

func (s *Server) create(c *gin.Context) {
	var args service.CreateArgs
	if err := decode(c, &args); err != nil {
		s.badRequest(c, err)
		return
	}
	if args.Data == nil {
		args.Data = map[string]any{}
	}
	result, err := s.service.Create(c.Request.Context(), c.Param("entity"), args)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusCreated, result)
}

func (s *Server) createMany(c *gin.Context) {
	var args service.CreateManyArgs
	if err := decode(c, &args); err != nil {
		s.badRequest(c, err)
		return
	}
	result, err := s.service.CreateMany(c.Request.Context(), c.Param("entity"), args)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, result)
}

func (s *Server) createManyAndReturn(c *gin.Context) {
	var args service.CreateManyArgs
	if err := decode(c, &args); err != nil {
		s.badRequest(c, err)
		return
	}
	result, err := s.service.CreateManyAndReturn(c.Request.Context(), c.Param("entity"), args)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusCreated, result)
}

func (s *Server) schema(c *gin.Context) {
	s.respond(c, http.StatusOK, registry.File{Entities: s.service.Registry().Entities()})
}

func (s *Server) backends(c *gin.Context) {
	s.respond(c, http.StatusOK, internal.GetBackendMetadata())
}

func (s *Server) health(c *gin.Context) {
	s.respond(c, http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	stats, err := internal.GetSystemStats()
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respond(c, http.StatusOK, stats)
}
