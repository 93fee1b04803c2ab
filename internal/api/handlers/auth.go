package handlers

import (
	"net/http"

	"asistente-coples/internal/api/middleware"
	"asistente-coples/internal/core/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type obtainTokenRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshTokenRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

type registerRequest struct {
	Username  string `json:"username" binding:"required,min=3"`
	Email     string `json:"email" binding:"required,email"`
	Name      string `json:"name"`
	Password  string `json:"password" binding:"required,min=8"`
	Password2 string `json:"password2" binding:"required"`
	RoleID    *uint  `json:"rol"`
}

// ObtainToken exchanges credentials for an access/refresh token pair.
func (h *APIHandler) ObtainToken(c *gin.Context) {
	var req obtainTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.repo.GetUserByUsername(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "auth.internal_error")})
		return
	}
	if user == nil || h.auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.T(c, "auth.invalid_credentials")})
		return
	}

	pair, err := h.auth.IssuePair(user)
	if err != nil {
		log.Errorf("Failed to issue token pair for %s: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "auth.internal_error")})
		return
	}

	log.Infof("User %s logged in", user.Username)
	c.JSON(http.StatusOK, pair)
}

// RefreshToken exchanges a refresh token for a new access token.
func (h *APIHandler) RefreshToken(c *gin.Context) {
	var req refreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	access, err := h.auth.Refresh(req.Refresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": middleware.T(c, "auth.invalid_token")})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access": access})
}

// RegisterUser creates a new user account.
func (h *APIHandler) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Password != req.Password2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": middleware.T(c, "users.password_mismatch")})
		return
	}

	if existing, err := h.repo.GetUserByUsername(req.Username); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	} else if existing != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": middleware.T(c, "users.username_taken")})
		return
	}

	if taken, err := h.repo.EmailTaken(req.Email, 0); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	} else if taken {
		c.JSON(http.StatusBadRequest, gin.H{"error": middleware.T(c, "users.email_taken")})
		return
	}

	hash, err := h.auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		RoleID:       req.RoleID,
	}
	if err := h.repo.SaveUser(user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	created, err := h.repo.GetUserByID(user.ID)
	if err != nil || created == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": middleware.T(c, "auth.internal_error")})
		return
	}

	log.Infof("User %s registered", created.Username)
	c.JSON(http.StatusCreated, created)
}

// GetCurrentUser returns the authenticated user.
func (h *APIHandler) GetCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.CurrentUser(c))
}
