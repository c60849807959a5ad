// Package reports exposes the report request endpoint, the stored version
// endpoints and the cache maintenance endpoints.
package reports

import (
	"github.com/gin-gonic/gin"

	"github.com/tally-lab/project-tally/internal/cache"
	"github.com/tally-lab/project-tally/internal/dataset"
	"github.com/tally-lab/project-tally/internal/orchestrator"
	"github.com/tally-lab/project-tally/internal/report"
)

type Service struct {
	datasets dataset.Repository
	versions report.Store
	cache    *cache.Store
	orch     *orchestrator.Orchestrator
}

func NewService(datasets dataset.Repository, versions report.Store, cacheStore *cache.Store, orch *orchestrator.Orchestrator) *Service {
	if datasets == nil {
		panic("reports: dataset repository must not be nil")
	}
	if versions == nil {
		panic("reports: version store must not be nil")
	}
	if cacheStore == nil {
		panic("reports: cache must not be nil")
	}
	if orch == nil {
		panic("reports: orchestrator must not be nil")
	}
	return &Service{
		datasets: datasets,
		versions: versions,
		cache:    cacheStore,
		orch:     orch,
	}
}

// RegisterRoutes registers the report and cache maintenance routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/reports", s.CreateReportHandler)
	r.GET("/v1/uploads/:upload_id/versions", s.ListVersionsHandler)
	r.GET("/v1/versions/:version_id", s.GetVersionHandler)
	r.GET("/v1/versions/:version_id/export", s.ExportVersionHandler)
	r.GET("/v1/cache/stats", s.CacheStatsHandler)
	r.POST("/v1/cache/invalidate", s.InvalidateCacheHandler)
}
