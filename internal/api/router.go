package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// NewRouter registers every route of the service.
func NewRouter(wizardH *WizardHandler, dealerH *DealerHandler, checks map[string]HealthCheck, logger *zap.Logger) *gin.Engine {
	// Step values decode as json.Number so long identifiers keep every digit.
	binding.EnableDecoderUseNumber = true

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger))

	r.GET("/healthz", healthz(checks))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		wz := api.Group("/wizard")
		{
			wz.POST("", wizardH.Start)
			wz.GET("/:session", wizardH.Get)
			wz.DELETE("/:session", wizardH.Clear)
			wz.PUT("/:session/vehicle-type", wizardH.SwitchVehicleType)
			wz.PATCH("/:session/meta", wizardH.UpdateMeta)
			wz.POST("/:session/location", wizardH.CaptureLocation)
			wz.POST("/:session/publish", wizardH.Publish)

			steps := wz.Group("/:session/steps/:step")
			steps.PATCH("", wizardH.UpdateStep)
			steps.POST("/next", wizardH.Next)
			steps.POST("/skip", wizardH.Skip)
			steps.POST("/blur", wizardH.Blur)
		}

		dealer := api.Group("/dealer")
		{
			dealer.GET("/listings", dealerH.List)
			dealer.GET("/listings/export", dealerH.Export)
			dealer.GET("/stats", dealerH.Stats)
		}
	}

	return r
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		if status != http.StatusOK {
			fail(c, status, "unhealthy", results)
			return
		}
		ok(c, status, results)
	}
}
