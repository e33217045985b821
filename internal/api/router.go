package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"rentfold/rf/internal/api/handlers"
	"rentfold/rf/internal/api/middleware"
	"rentfold/rf/internal/captcha"
	"rentfold/rf/internal/config"
	"rentfold/rf/internal/models"
	"rentfold/rf/internal/payments"
	"rentfold/rf/internal/services"
	"rentfold/rf/internal/storage"
)

// TaskQueues is the pair of queue interfaces the API needs. tasks.Client
// satisfies both.
type TaskQueues interface {
	services.IEffectsQueue
	handlers.IImageTaskEnqueuer
}

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, db *mongo.Database, rdb *redis.Client, queues TaskQueues, configSvc services.IConfigService) *gin.Engine {
	// Services are wired here; handlers receive interfaces only.
	userService := services.NewUserService(db)
	statusService := services.NewRenterStatusService(db, cfg, rdb, userService)
	propertyService := services.NewPropertyService(db, cfg)
	invitationService := services.NewInvitationService(db, cfg, userService, propertyService, queues)
	applicationService := services.NewApplicationService(db, invitationService, queues)
	leaseService := services.NewLeaseService(db, propertyService, statusService, queues)
	gateway := payments.NewGateway(cfg.PaymentGatewayURL, cfg.PaymentGatewaySecret)
	paymentService := services.NewPaymentService(db, cfg, leaseService, statusService, gateway, queues)
	invoiceService := services.NewInvoiceService(db, cfg, leaseService, statusService, gateway, queues)
	noticeService := services.NewNoticeService(db, statusService, queues)
	notificationService := services.NewNotificationService(db, cfg, rdb)

	s3Storage, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize S3 storage for API: %v", err)
	}

	captchaVerifier := captcha.NewTurnstileVerifier(cfg)

	r := gin.Default()

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg, configSvc)

	// Global middleware, order matters: captcha sets the human flag the
	// rate limiter reads.
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.CaptchaMiddleware(cfg, captchaVerifier))
	r.Use(rateLimiter.Limit())

	authHandler := handlers.NewAuthHandler(cfg, userService)
	propertyHandler := handlers.NewPropertyHandler(propertyService, s3Storage, queues)
	invitationHandler := handlers.NewInvitationHandler(invitationService)
	applicationHandler := handlers.NewApplicationHandler(applicationService, s3Storage)
	leaseHandler := handlers.NewLeaseHandler(leaseService, s3Storage)
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	invoiceHandler := handlers.NewInvoiceHandler(invoiceService)
	noticeHandler := handlers.NewNoticeHandler(noticeService)
	notificationHandler := handlers.NewNotificationHandler(notificationService)
	statusHandler := handlers.NewStatusHandler(statusService, propertyService)
	configHandler := handlers.NewConfigHandler(configSvc)
	adminHandler := handlers.NewAdminHandler(userService, configSvc)

	landlord := middleware.RequireRole(models.RoleLandlord)
	renter := middleware.RequireRole(models.RoleRenter)

	v1 := r.Group("/v1")
	{
		// Public routes
		v1.POST("/auth/signup", authHandler.Signup)
		v1.POST("/auth/signin", authHandler.Signin)
		v1.GET("/config", configHandler.GetPublicConfig)
		v1.GET("/invitations/token/:token", invitationHandler.GetByToken)
		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Authenticated routes; role gates are attached per route so the
		// authorization surface is visible in one place.
		auth := v1.Group("/")
		auth.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			auth.GET("/me", authHandler.Me)
			auth.PUT("/me", authHandler.UpdateProfile)

			// Properties (landlord)
			auth.POST("/properties", landlord, propertyHandler.Create)
			auth.GET("/properties", landlord, propertyHandler.List)
			auth.GET("/properties/:id", propertyHandler.Get)
			auth.PUT("/properties/:id", landlord, propertyHandler.Update)
			auth.DELETE("/properties/:id", landlord, propertyHandler.Delete)
			auth.POST("/properties/:id/photos/upload-url", landlord, propertyHandler.PhotoUploadURL)
			auth.POST("/properties/:id/photos", landlord, propertyHandler.ConfirmPhoto)
			auth.DELETE("/properties/:id/photos", landlord, propertyHandler.RemovePhoto)

			// Invitations
			auth.POST("/invitations", landlord, invitationHandler.Create)
			auth.GET("/properties/:id/invitations", landlord, invitationHandler.ListByProperty)
			auth.GET("/invitations", renter, invitationHandler.ListMine)
			auth.POST("/invitations/:id/accept", renter, invitationHandler.Accept)
			auth.POST("/invitations/:id/decline", renter, invitationHandler.Decline)
			auth.DELETE("/invitations/:id", landlord, invitationHandler.Revoke)

			// Applications
			auth.PUT("/invitations/:id/application", renter, applicationHandler.Autosave)
			auth.GET("/invitations/:id/application", renter, applicationHandler.GetDraft)
			auth.POST("/applications/signature-upload-url", renter, applicationHandler.SignatureUploadURL)
			auth.POST("/applications/:id/submit", renter, applicationHandler.Submit)
			auth.GET("/properties/:id/applications", landlord, applicationHandler.ListByProperty)
			auth.GET("/applications", renter, applicationHandler.ListMine)
			auth.GET("/applications/:id", applicationHandler.Get)
			auth.POST("/applications/:id/approve", landlord, applicationHandler.Approve)
			auth.POST("/applications/:id/reject", landlord, applicationHandler.Reject)

			// Leases
			auth.POST("/leases", landlord, leaseHandler.Upload)
			auth.GET("/leases", renter, leaseHandler.ListMine)
			auth.GET("/leases/:id", leaseHandler.Get)
			auth.GET("/properties/:id/leases", landlord, leaseHandler.ListByProperty)
			auth.PUT("/leases/:id", landlord, leaseHandler.UpdateTerms)
			auth.POST("/leases/:id/sign", leaseHandler.Sign)
			auth.POST("/leases/:id/reject", renter, leaseHandler.Reject)
			auth.POST("/leases/:id/activate", landlord, leaseHandler.Activate)
			auth.POST("/leases/document-upload-url", landlord, leaseHandler.DocumentUploadURL)
			auth.GET("/leases/:id/document", leaseHandler.DocumentURL)

			// Payments
			auth.GET("/leases/:id/payments/next-due", paymentHandler.NextDue)
			auth.POST("/leases/:id/payments", renter, paymentHandler.PayRent)
			auth.GET("/leases/:id/payments", paymentHandler.ListForLease)
			auth.GET("/payments", renter, paymentHandler.ListMine)
			auth.GET("/properties/:id/payments", landlord, paymentHandler.ListByProperty)

			// Invoices
			auth.POST("/invoices", landlord, invoiceHandler.Issue)
			auth.GET("/invoices/issued", landlord, invoiceHandler.ListIssued)
			auth.GET("/invoices", renter, invoiceHandler.ListMine)
			auth.GET("/invoices/:id", invoiceHandler.Get)
			auth.POST("/invoices/:id/pay", renter, invoiceHandler.Pay)

			// Notices
			auth.POST("/notices", noticeHandler.Send)
			auth.GET("/notices", noticeHandler.ListReceived)
			auth.GET("/notices/sent", noticeHandler.ListSent)
			auth.POST("/notices/:id/read", noticeHandler.MarkRead)
			auth.DELETE("/notices/:id", noticeHandler.Delete)

			// Notifications
			auth.GET("/notifications", notificationHandler.List)
			auth.GET("/notifications/unread-count", notificationHandler.UnreadCount)
			auth.POST("/notifications/:id/read", notificationHandler.MarkRead)
			auth.POST("/notifications/read-all", notificationHandler.MarkAllRead)

			// Status board
			auth.GET("/status-board", landlord, statusHandler.BoardForLandlord)
			auth.GET("/properties/:id/status-board", landlord, statusHandler.BoardForProperty)
			auth.POST("/properties/:id/status-board/rebuild", landlord, statusHandler.Rebuild)
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.RequireRole(models.RoleAdmin))
		{
			admin.POST("/users/:id/suspend", adminHandler.SuspendUser)
			admin.POST("/users/:id/unsuspend", adminHandler.UnsuspendUser)
			admin.PUT("/config", adminHandler.SetConfig)
		}
	}

	return r
}

// SetupServiceRouter configures and returns the ops Gin engine. It is bound
// to the internal service port and never exposed publicly.
func SetupServiceRouter(cfg *config.Config, rdb *redis.Client, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req struct {
			Method    string          `json:"method"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			fmt.Println("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "result": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
				fmt.Println("Shutdown signal sent successfully.")
			default:
				fmt.Println("Shutdown channel already signaled or blocked.")
			}
		case "getTestEmail":
			var args []string // Expect ["kind", "email"]
			if err := json.Unmarshal(req.Arguments, &args); err != nil || len(args) != 2 {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [kind, email]"})
				return
			}
			kind := args[0]
			emailAddr := args[1]
			redisKey := fmt.Sprintf("mockemail:%s:%s", emailAddr, kind)

			// Poll briefly; the email is written by the background worker.
			var emailJSONData string
			var getErr error
			found := false
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			for i := 0; i < 10; i++ {
				emailJSONData, getErr = rdb.Get(ctx, redisKey).Result()
				if getErr == nil {
					found = true
					rdb.Del(ctx, redisKey)
					break
				}
				if getErr != redis.Nil {
					log.Printf("Service API: Error getting key %s from Redis: %v", redisKey, getErr)
					c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
					return
				}
				time.Sleep(200 * time.Millisecond)
			}

			if !found {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
				return
			}

			var emailData map[string]interface{}
			if err := json.Unmarshal([]byte(emailJSONData), &emailData); err != nil {
				log.Printf("Service API: Error unmarshalling email data from key %s: %v", redisKey, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
				return
			}

			c.JSON(http.StatusOK, gin.H{"success": true, "data": emailData})

		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}
