package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ocornejot/api-jwt/internal/models"
	"github.com/ocornejot/api-jwt/internal/response"
)

type usersResponse struct {
	Users []models.User `json:"users"`
}

// GET /api/users
func (h *Handler) ListUsers(c *gin.Context, _ models.Identity) (response.Envelope, error) {
	const op = "handler.ListUsers"

	users, err := h.serviceLayer.ListUsers(c.Request.Context())
	if err != nil {
		return response.Envelope{}, fmt.Errorf("%s: %w", op, err)
	}

	return h.formatter.Success(usersResponse{Users: users}, http.StatusOK), nil
}
