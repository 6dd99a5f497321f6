package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-shelter-platform/shared/access"
	"github.com/pavitra93/go-shelter-platform/shared/apperrors"
	"github.com/pavitra93/go-shelter-platform/shared/config"
	"github.com/pavitra93/go-shelter-platform/shared/middleware"
	"github.com/pavitra93/go-shelter-platform/shared/models"
	"github.com/pavitra93/go-shelter-platform/shared/telemetry"
	"github.com/pavitra93/go-shelter-platform/shared/utils"
)

func main() {
	cfg := config.Load()
	cfg.SetupLogging()
	m := telemetry.New(prometheus.DefaultRegisterer)

	provider, closeCache, err := cfg.NewIdentityProvider(context.Background(), m)
	if err != nil {
		log.Fatal("Failed to initialize identity provider:", err)
	}
	defer closeCache()

	logger := logrus.WithField("service", "gateway")

	// Initialize service clients
	newClient := func(name, envKey string) *ServiceClient {
		return NewServiceClient(name, config.Env(envKey, ""), cfg.NewBreaker(name), logger)
	}
	serviceClients := &ServiceClients{
		AuthService:      newClient("auth_service", "AUTH_SERVICE_URL"),
		TenantService:    newClient("tenant_service", "TENANT_SERVICE_URL"),
		DonationService:  newClient("donation_service", "DONATION_SERVICE_URL"),
		AnalyticsService: newClient("analytics_service", "ANALYTICS_SERVICE_URL"),
		ChatbotService:   newClient("chatbot_service", "CHATBOT_SERVICE_URL"),
		Frontend:         newClient("frontend", "FRONTEND_URL"),
	}

	router := setupRouter(middleware.NewAuthMiddleware(provider, logger), serviceClients)

	port := config.Port("API_GATEWAY_PORT", "8080")
	logger.Infof("API Gateway starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start API Gateway:", err)
	}
}

func setupRouter(am *middleware.AuthMiddleware, clients *ServiceClients) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// Public endpoints
	router.GET("/health", func(c *gin.Context) {
		utils.OKResponse(c, "API Gateway is healthy", nil)
	})
	router.GET("/metrics", telemetry.Handler())
	router.Any("/chatbot/public", clients.ChatbotService.ProxyRequest)
	router.Any("/chatbot/public/*path", clients.ChatbotService.ProxyRequest)

	// Everything below needs a verified bearer token
	authed := router.Group("")
	authed.Use(am.RequireAuth())

	authed.GET("/status", am.RequireSuper(), func(c *gin.Context) {
		utils.OKResponse(c, "Service status retrieved", clients.GetServiceStatus(c.Request.Context()))
	})

	auth := authed.Group("/auth")
	{
		auth.GET("/verify", clients.AuthService.ProxyRequest)
		auth.GET("/dashboard", clients.AuthService.ProxyRequest)
	}

	// User management routes (admin only)
	users := authed.Group("/users")
	users.Use(am.RequireRole(models.RoleAdmin, models.RoleSuperAdmin, models.RolePlatformAdmin))
	{
		users.GET("", clients.AuthService.ProxyRequest)
		users.GET("/:id", clients.AuthService.ProxyRequest)
		users.PUT("/:id/role", clients.AuthService.ProxyRequest)
	}

	tenants := authed.Group("/tenants")
	{
		tenants.Any("", clients.TenantService.ProxyRequest)
		tenants.Any("/*path", clients.TenantService.ProxyRequest)
	}

	donations := authed.Group("/donations")
	{
		donations.Any("", clients.DonationService.ProxyRequest)
		donations.Any("/*path", clients.DonationService.ProxyRequest)
	}

	analytics := authed.Group("/analytics")
	{
		analytics.Any("/*path", clients.AnalyticsService.ProxyRequest)
	}

	authed.GET("/chatbot-dashboard/*path", clients.ChatbotService.ProxyRequest)
	authed.GET("/knowledge-dashboard/*path", clients.ChatbotService.ProxyRequest)

	// Dashboard routing
	authed.GET("/dashboards/resolve", handleResolveDashboard())
	for _, root := range []string{access.RootDashboard, access.ShelterAdminDashboard, access.ParticipantDashboard, access.DonorDashboard} {
		authed.GET(root, am.RequireDashboard(), clients.Frontend.ProxyRequest)
		authed.GET(root+"/*path", am.RequireDashboard(), clients.Frontend.ProxyRequest)
	}

	return router
}

// handleResolveDashboard redirects the caller to ?path= when their role may
// open it, otherwise to their own dashboard root
func handleResolveDashboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := middleware.IdentityFromContext(c)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}

		target, err := access.ResolveDashboard(id)
		if err != nil {
			utils.ErrorFromErr(c, err)
			return
		}
		if path := c.Query("path"); path != "" {
			// "//host" and "/\host" are protocol-relative to browsers
			if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") || strings.HasPrefix(path, "/\\") {
				utils.BadRequestResponse(c, "path must be a local path")
				return
			}
			// a mismatch still yields the caller's own root
			guarded, err := access.GuardPath(id, path)
			if err != nil && !errors.Is(err, apperrors.ErrScopeMismatch) {
				utils.ErrorFromErr(c, err)
				return
			}
			target = guarded
		}
		c.Redirect(http.StatusFound, target)
	}
}
