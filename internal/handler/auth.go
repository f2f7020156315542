package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ocornejot/api-jwt/internal/models"
	"github.com/ocornejot/api-jwt/internal/response"
)

const (
	msgRegistered = "User successfully registered"
	msgSignedOut  = "User successfully signed out"
)

type registerResponse struct {
	Message string      `json:"message"`
	User    models.User `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// authenticate resolves the bearer token of the request. Both "Bearer <token>"
// and a bare token are accepted.
func (h *Handler) authenticate(c *gin.Context) (models.Identity, error) {
	const op = "handler.authenticate"

	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		return models.Identity{}, fmt.Errorf("%s: empty authorization header: %w", op, models.ErrUnauthorized)
	}

	tokenStr := authHeader
	if scheme, rest, found := strings.Cut(authHeader, " "); found && strings.EqualFold(scheme, "Bearer") {
		tokenStr = strings.TrimSpace(rest)
	}

	identity, err := h.serviceLayer.ResolveIdentity(c.Request.Context(), tokenStr)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	return identity, nil
}

// POST /api/auth/register
func (h *Handler) Register(c *gin.Context) (response.Envelope, error) {
	const op = "handler.Register"

	log := h.log.With(slog.String("op", op))

	var req models.RegisterRequest
	if err := bindJSON(c, &req); err != nil {
		return response.Envelope{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := h.validator.Register(c.Request.Context(), req); err != nil {
		return response.Envelope{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := h.serviceLayer.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		return response.Envelope{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.Any("user_id", user.ID))

	return h.formatter.Success(registerResponse{Message: msgRegistered, User: user}, http.StatusCreated), nil
}

// POST /api/auth/login
func (h *Handler) Login(c *gin.Context) (response.Envelope, error) {
	const op = "handler.Login"

	log := h.log.With(slog.String("op", op))

	var req models.LoginRequest
	if err := bindJSON(c, &req); err != nil {
		return response.Envelope{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := h.validator.Login(c.Request.Context(), req); err != nil {
		return response.Envelope{}, fmt.Errorf("%s: %w", op, err)
	}

	token, err := h.serviceLayer.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		return response.Envelope{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user login", slog.Any("user_id", token.User.ID))

	return h.formatter.Success(token, http.StatusOK), nil
}

// POST /api/auth/logout
func (h *Handler) Logout(c *gin.Context, identity models.Identity) (response.Envelope, error) {
	const op = "handler.Logout"

	log := h.log.With(slog.String("op", op))

	if err := h.serviceLayer.Logout(c.Request.Context(), identity); err != nil {
		return response.Envelope{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logout", slog.Any("user_id", identity.User.ID))

	return h.formatter.Success(messageResponse{Message: msgSignedOut}, http.StatusOK), nil
}

// POST /api/auth/refresh
func (h *Handler) Refresh(c *gin.Context, identity models.Identity) (response.Envelope, error) {
	const op = "handler.Refresh"

	token, err := h.serviceLayer.Refresh(c.Request.Context(), identity)
	if err != nil {
		return response.Envelope{}, fmt.Errorf("%s: %w", op, err)
	}

	h.log.Debug("token refreshed", slog.String("op", op), slog.Any("user_id", identity.User.ID))

	return h.formatter.Success(token, http.StatusOK), nil
}

// GET /api/auth/user-profile
func (h *Handler) UserProfile(_ *gin.Context, identity models.Identity) (response.Envelope, error) {
	return h.formatter.Success(identity.User, http.StatusOK), nil
}
