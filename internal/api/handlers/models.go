package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apierrors "github.com/monoturn/monoturn/internal/errors"
	"github.com/monoturn/monoturn/internal/registry"
)

// ModelsHandler serves the model listing endpoints.
type ModelsHandler struct {
	registry *registry.ModelRegistry
}

// NewModelsHandler wires a models handler around the given registry.
func NewModelsHandler(reg *registry.ModelRegistry) *ModelsHandler {
	return &ModelsHandler{registry: reg}
}

// List serves GET /v1/models.
func (h *ModelsHandler) List(c *gin.Context) {
	models := h.registry.List()
	data := make([]any, 0, len(models))
	for _, m := range models {
		data = append(data, m)
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}

// Get serves GET /v1/models/:id.
func (h *ModelsHandler) Get(c *gin.Context) {
	id := c.Param("id")
	model := h.registry.Lookup(id)
	if model == nil {
		respondError(c, apierrors.NotFound("model not found: "+id))
		return
	}
	c.JSON(http.StatusOK, model)
}
