package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/faceprofiles/internal/api/handlers"
	"github.com/your-org/faceprofiles/internal/auth"
)

type RouterConfig struct {
	// APIKeys accepted on /v1. Empty disables authentication.
	APIKeys  []string
	Profiles handlers.ProfileService
	// Images is optional; without it enrollment images are not kept.
	Images handlers.ImageStore
	Checks []handlers.ReadinessCheck
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKeys...))

	profileH := handlers.NewProfileHandler(cfg.Profiles, cfg.Images)
	faces := v1.Group("/users/:user_id/face-data")
	faces.GET("", profileH.List)
	faces.POST("", profileH.Enroll)
	faces.GET("/:fid", profileH.Get)
	faces.DELETE("/:fid", profileH.Delete)
	faces.PUT("/:fid/primary", profileH.SetPrimary)
	faces.GET("/:fid/image", profileH.Image)

	return r
}
