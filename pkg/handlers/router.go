package handlers

import (
	"time"

	"github.com/animagenius/animagenius-api/pkg/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// maxUploadMemory is how much of a multipart upload gin keeps in memory.
const maxUploadMemory = 32 << 20

// NewRouter wires every route onto a gin engine.
func NewRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = maxUploadMemory

	corsConfig := cors.Config{
		AllowOrigins:     h.Config.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", HealthCheck)

	api := router.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/signup", h.Signup)
		auth.POST("/signin", h.Signin)
	}

	webhooks := api.Group("/webhooks")
	{
		webhooks.POST("/paypal", h.PayPalWebhook)
		webhooks.GET("/paypal", h.PayPalWebhookStatus)
	}

	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(h.JWT))
	{
		authed.GET("/user/profile", h.GetProfile)
		authed.GET("/user/notifications", h.ListNotifications)
		authed.POST("/user/notifications/:id/read", h.MarkNotificationRead)

		authed.GET("/projects", h.ListProjects)
		authed.POST("/projects", h.CreateProject)
		authed.GET("/projects/:id", h.GetProject)
		authed.DELETE("/projects/:id", h.DeleteProject)
		authed.POST("/projects/:id/generate", h.GenerateVideo)

		authed.GET("/billing/plans", h.GetPlans)
		authed.POST("/billing/subscribe", h.Subscribe)
		authed.POST("/billing/cancel", h.CancelSubscription)
		authed.POST("/billing/change-plan", h.ChangePlan)
		authed.GET("/billing/status", h.BillingStatus)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AdminMiddleware(h.JWT))
	{
		admin.GET("/stats", h.AdminStats)
		admin.GET("/users", h.AdminListUsers)
		admin.PUT("/users", h.AdminUpdateUser)
	}

	return router
}
