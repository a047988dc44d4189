package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docquery/internal/pkg/response"
)

// InstanceProperties are the non-secret limits a client wants to know before
// it starts uploading.
type InstanceProperties struct {
	MaxUploadSize       int64    `json:"max_upload_size"`
	SupportedExtensions []string `json:"supported_extensions"`
	VectorIndex         string   `json:"vector_index"`
	EmbedModels         []string `json:"embed_models"`
	GenerateModels      []string `json:"generate_models"`
}

type PropertiesHandler struct {
	properties InstanceProperties
}

func NewPropertiesHandler(properties InstanceProperties) *PropertiesHandler {
	return &PropertiesHandler{properties: properties}
}

func (h *PropertiesHandler) Get(c *gin.Context) {
	response.Success(c, gin.H{"properties": h.properties})
}
