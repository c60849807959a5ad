// Package ingestion exposes the dataset registration endpoints: clients
// upload a tabular dataset once and reference it by upload id afterwards.
package ingestion

import (
	"github.com/gin-gonic/gin"

	"github.com/tally-lab/project-tally/internal/dataset"
)

type Service struct {
	datasets         dataset.Repository
	maxBodySizeBytes int
}

func NewService(datasets dataset.Repository, maxBodySizeMB int) *Service {
	if datasets == nil {
		panic("ingestion: dataset repository must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 8 // default to 8MB
	}
	return &Service{
		datasets:         datasets,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the dataset registration routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/datasets", s.RegisterHandler)
	r.GET("/v1/datasets", s.ListDatasetsHandler)
	r.GET("/v1/datasets/:upload_id", s.GetDatasetHandler)
}
