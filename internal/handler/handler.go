package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ocornejot/api-jwt/internal/models"
	"github.com/ocornejot/api-jwt/internal/response"
	"github.com/ocornejot/api-jwt/internal/service"
	"github.com/ocornejot/api-jwt/internal/validation"
)

// apiFunc is a handler that returns its result instead of writing it.
type apiFunc func(c *gin.Context) (response.Envelope, error)

// authedFunc additionally receives the identity resolved by the authentication gate.
type authedFunc func(c *gin.Context, identity models.Identity) (response.Envelope, error)

type Handler struct {
	serviceLayer service.Service
	validator    validation.Validator
	formatter    *response.Formatter
	metrics      *Metrics
	log          *slog.Logger
}

func NewHandler(srvc service.Service, v validation.Validator, lgr *slog.Logger, m *Metrics) *Handler {
	return &Handler{
		serviceLayer: srvc,
		validator:    v,
		formatter:    response.NewFormatter(lgr),
		metrics:      m,
		log:          lgr,
	}
}

func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true

	router.Use(
		RequestID(),
		RequestLogger(h.log),
		h.metrics.Middleware(),
		Recovery(h.formatter),
	)

	router.NoRoute(func(c *gin.Context) {
		h.write(c, h.formatter.Custom(http.StatusNotFound, "", nil))
	})
	router.NoMethod(func(c *gin.Context) {
		h.write(c, h.formatter.Custom(http.StatusMethodNotAllowed, "", nil))
	})

	api := router.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/register", h.public(h.Register))
		auth.POST("/login", h.public(h.Login))

		auth.POST("/logout", h.authenticated(h.Logout))
		auth.POST("/refresh", h.authenticated(h.Refresh))
		auth.GET("/user-profile", h.authenticated(h.UserProfile))
	}

	api.GET("/users", h.authenticated(h.ListUsers))

	return router
}

func (h *Handler) public(fn apiFunc) gin.HandlerFunc {
	return h.adapt(funcName(fn), fn)
}

// authenticated puts the gate in front of fn: without a valid bearer token fn never runs.
func (h *Handler) authenticated(fn authedFunc) gin.HandlerFunc {
	return h.adapt(funcName(fn), func(c *gin.Context) (response.Envelope, error) {
		identity, err := h.authenticate(c)
		if err != nil {
			return response.Envelope{}, err
		}

		return fn(c, identity)
	})
}

// adapt is the single place where handler results and errors become responses.
func (h *Handler) adapt(name string, fn apiFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		env, err := fn(c)
		if err != nil {
			env = h.formatter.Error(c.Request.Context(), err,
				slog.String("handler", name),
				slog.String("method", c.Request.Method),
				slog.String("route", c.FullPath()),
				slog.String("request_id", c.GetString(requestIDKey)),
			)
		}

		h.write(c, env)
	}
}

func (h *Handler) write(c *gin.Context, env response.Envelope) {
	c.AbortWithStatusJSON(env.HTTPStatus, env)
}

// bindJSON decodes the request body into dst. An empty body leaves dst zero,
// so the validator reports the missing fields.
func bindJSON(c *gin.Context, dst any) error {
	err := c.ShouldBindJSON(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}

	if fieldErrs := validation.FromBindError(err); fieldErrs != nil {
		return fieldErrs
	}

	return response.NewHTTPError(http.StatusBadRequest, "Malformed JSON body", err)
}

func funcName(fn any) string {
	name := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name()
	name = strings.TrimSuffix(name, "-fm")

	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	return name
}
