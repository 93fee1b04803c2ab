package handlers

import (
	"net/http"
	"strconv"

	"asistente-coples/internal/api/middleware"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type updateUserRequest struct {
	Email    string `json:"email" binding:"omitempty,email"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"omitempty,min=8"`
	RoleID   *uint  `json:"rol"`
}

// ListUsers returns all users. Admin only.
func (h *APIHandler) ListUsers(c *gin.Context) {
	users, err := h.repo.ListUsers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, users)
}

// GetUser returns one user by id. Admin only.
func (h *APIHandler) GetUser(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	user, err := h.repo.GetUserByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "users.not_found")})
		return
	}
	c.JSON(http.StatusOK, user)
}

// UpdateUser modifies a user's profile, role or password. Admin only.
func (h *APIHandler) UpdateUser(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	user, err := h.repo.GetUserByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "users.not_found")})
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Email != "" && req.Email != user.Email {
		taken, err := h.repo.EmailTaken(req.Email, user.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if taken {
			c.JSON(http.StatusBadRequest, gin.H{"error": middleware.T(c, "users.email_taken")})
			return
		}
		user.Email = req.Email
	}
	if req.Name != "" {
		user.Name = req.Name
	}
	if req.RoleID != nil {
		user.RoleID = req.RoleID
		user.Role = nil
	}
	if req.Password != "" {
		hash, err := h.auth.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		user.PasswordHash = hash
	}

	if err := h.repo.SaveUser(user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.repo.GetUserByID(user.ID)
	if err != nil || updated == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "auth.internal_error")})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteUser removes a user. Admin only; self-deletion is rejected.
func (h *APIHandler) DeleteUser(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	current := middleware.CurrentUser(c)
	if current != nil && current.ID == id {
		c.JSON(http.StatusBadRequest, gin.H{"error": middleware.T(c, "users.cannot_delete_self")})
		return
	}

	user, err := h.repo.GetUserByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "users.not_found")})
		return
	}

	if err := h.repo.DeleteUser(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Infof("User %s deleted", user.Username)
	c.Status(http.StatusNoContent)
}

// parseIDParam reads the :id route parameter, responding 400 on bad input.
func parseIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}
