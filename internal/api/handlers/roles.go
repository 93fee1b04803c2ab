package handlers

import (
	"errors"
	"net/http"

	"asistente-coples/internal/api/middleware"
	"asistente-coples/internal/core/models"
	"asistente-coples/internal/db/repository"

	"github.com/gin-gonic/gin"
)

type roleRequest struct {
	Name        string `json:"rol_nombre" binding:"required,min=2"`
	Description string `json:"rol_descripcion"`
}

// ListRoles returns all roles.
func (h *APIHandler) ListRoles(c *gin.Context) {
	roles, err := h.repo.ListRoles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, roles)
}

// CreateRole creates a new role.
func (h *APIHandler) CreateRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role := &models.Role{Name: req.Name, Description: req.Description}
	if err := h.repo.SaveRole(role); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, role)
}

// GetRole returns one role by id.
func (h *APIHandler) GetRole(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	role, err := h.repo.GetRoleByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if role == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "roles.not_found")})
		return
	}
	c.JSON(http.StatusOK, role)
}

// UpdateRole renames or re-describes a role.
func (h *APIHandler) UpdateRole(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	role, err := h.repo.GetRoleByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if role == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "roles.not_found")})
		return
	}

	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	role.Name = req.Name
	role.Description = req.Description
	if err := h.repo.SaveRole(role); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, role)
}

// DeleteRole removes a role unless users still reference it.
func (h *APIHandler) DeleteRole(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	role, err := h.repo.GetRoleByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if role == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": middleware.T(c, "roles.not_found")})
		return
	}

	if err := h.repo.DeleteRole(id); err != nil {
		if errors.Is(err, repository.ErrRoleInUse) {
			c.JSON(http.StatusConflict, gin.H{"error": middleware.T(c, "roles.in_use")})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
