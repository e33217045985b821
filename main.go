package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/mongo"

	"rentfold/rf/internal/api"
	"rentfold/rf/internal/cache"
	"rentfold/rf/internal/config"
	"rentfold/rf/internal/db"
	"rentfold/rf/internal/email"
	"rentfold/rf/internal/models"
	"rentfold/rf/internal/payments"
	"rentfold/rf/internal/services"
	"rentfold/rf/internal/tasks"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (background tasks), 'img' (image processing), 'setup' (provision test accounts), 'all' (default)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	redisClient, err := cache.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	// Setup mode provisions the fixed test accounts and exits.
	if cfg.RunMode == "setup" {
		runSetup(cfg, mongoDb)
		return
	}

	// S3 client for the image-processing worker.
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"",
		)),
	)
	if err != nil {
		log.Fatalf("Failed to load AWS config for S3 client: %v", err)
	}
	s3Client := s3.NewFromConfig(awsCfg)

	var primaryEmailSender email.Sender
	if os.Getenv("MOCK_SERVICES") == "true" {
		log.Println("MOCK_SERVICES enabled: Using Redis email sender.")
		primaryEmailSender = email.NewRedisSender(redisClient, cfg)
	} else {
		log.Println("MOCK_SERVICES disabled or not set: Using SMTP/Logging email sender.")
		primaryEmailSender = email.NewSMTPSender(cfg)
	}

	compositeSender := email.NewCompositeEmailSender(primaryEmailSender)
	logEmailsPath := os.Getenv("LOG_EMAILS")
	if logEmailsPath != "" {
		log.Printf("LOG_EMAILS set to '%s', enabling file email logger.", logEmailsPath)
		fileSender, err := email.NewFileEmailSender(logEmailsPath, cfg)
		if err != nil {
			log.Printf("WARNING: Failed to initialize file email sender (LOG_EMAILS='%s'): %v. Proceeding without file logging.", logEmailsPath, err)
		} else {
			compositeSender.AddSender(fileSender)
			log.Println("File email logger added to composite sender.")
		}
	}
	finalEmailSender := email.Sender(compositeSender)

	// Dynamic config: load once, then follow pub/sub updates.
	configSvc := services.NewConfigService(mongoDb, cfg, redisClient)
	if err := configSvc.Load(context.Background()); err != nil {
		log.Printf("WARNING: Failed to load dynamic config, using .env defaults: %v", err)
	}
	if err := configSvc.SubscribeToChanges(context.Background()); err != nil {
		log.Printf("WARNING: Failed to subscribe to config updates: %v", err)
	}

	// Effects queue; also enqueues emails, notifications and image work.
	taskClient := tasks.NewClient(redisClient)
	defer func() {
		if err := taskClient.Close(); err != nil {
			log.Printf("Error closing task client: %v", err)
		}
	}()

	// Services shared by the task processor. The API router wires its own
	// set against the same database.
	userService := services.NewUserService(mongoDb)
	statusService := services.NewRenterStatusService(mongoDb, cfg, redisClient, userService)
	propertyService := services.NewPropertyService(mongoDb, cfg)
	invitationService := services.NewInvitationService(mongoDb, cfg, userService, propertyService, taskClient)
	leaseService := services.NewLeaseService(mongoDb, propertyService, statusService, taskClient)
	gateway := payments.NewGateway(cfg.PaymentGatewayURL, cfg.PaymentGatewaySecret)
	paymentService := services.NewPaymentService(mongoDb, cfg, leaseService, statusService, gateway, taskClient)
	invoiceService := services.NewInvoiceService(mongoDb, cfg, leaseService, statusService, gateway, taskClient)
	notificationService := services.NewNotificationService(mongoDb, cfg, redisClient)
	emailTemplateService := services.NewEmailTemplateService(mongoDb)

	taskProcessor := tasks.NewTaskProcessor(
		cfg,
		finalEmailSender,
		statusService,
		notificationService,
		userService,
		propertyService,
		invitationService,
		leaseService,
		paymentService,
		invoiceService,
		configSvc,
		emailTemplateService,
		s3Client,
	)

	var wg sync.WaitGroup

	// Channel to signal shutdown from the Service API.
	shutdownChan := make(chan struct{}, 1)

	serviceRouter := api.SetupServiceRouter(cfg, redisClient, shutdownChan)
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: serviceRouter,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		fmt.Printf("Service API listening on :%s\n", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Service API ListenAndServe error: %v", err)
		}
		fmt.Println("Service API server stopped.")
	}()

	var mainApiSrv *http.Server
	var backgroundTaskSrv *asynq.Server
	var imageTaskSrv *asynq.Server

	fmt.Printf("Starting application in '%s' mode...\n", cfg.RunMode)

	apiMode := func() {
		fmt.Println("Starting main API server...")
		mainApiRouter := api.SetupRouter(cfg, mongoDb, redisClient, taskClient, configSvc)
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: mainApiRouter,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fmt.Printf("Main API listening on :%s\n", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
			fmt.Println("Main API server stopped.")
		}()
	}

	bgMode := func() {
		fmt.Println("Starting background worker...")
		backgroundTaskSrv = tasks.SetupServer(redisClient, taskProcessor, false, true)
		// The scheduler feeds the periodic sweeps; one per bg worker is
		// fine, asynq deduplicates scheduler entries by ID.
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tasks.RunScheduler(redisClient); err != nil {
				log.Printf("Task scheduler stopped: %v", err)
			}
		}()
	}

	imgMode := func() {
		fmt.Println("Starting image processing worker...")
		imageTaskSrv = tasks.SetupServer(redisClient, taskProcessor, true, false)
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "img":
		imgMode()
	case "all":
		apiMode()
		bgMode()
		imgMode()
	default:
		log.Fatalf("Invalid run mode specified: %s.", cfg.RunMode)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		fmt.Printf("\nReceived signal: %s. Shutting down gracefully...\n", sig)
	case <-shutdownChan:
		fmt.Println("\nShutdown requested via Service API. Shutting down gracefully...")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	fmt.Println("Shutting down Service API server...")
	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}

	if mainApiSrv != nil {
		fmt.Println("Shutting down Main API server...")
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
	}

	if backgroundTaskSrv != nil {
		fmt.Println("Shutting down Background Task server...")
		backgroundTaskSrv.Shutdown()
	}
	if imageTaskSrv != nil {
		fmt.Println("Shutting down Image Processing server...")
		imageTaskSrv.Shutdown()
	}

	fmt.Println("Waiting for servers to stop...")
	wg.Wait()

	fmt.Println("Server gracefully stopped")
}

// runSetup idempotently provisions the landlord, renter and admin test
// accounts used by integration tests and local development.
func runSetup(cfg *config.Config, mongoDb *mongo.Database) {
	userService := services.NewUserService(mongoDb)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accounts := []struct {
		name     string
		email    string
		password string
		role     models.Role
	}{
		{"Test Landlord", "landlord@rentfold.test", cfg.SetupLandlordPass, models.RoleLandlord},
		{"Test Renter", "renter@rentfold.test", cfg.SetupRenterPass, models.RoleRenter},
		{"Test Admin", "admin@rentfold.test", cfg.SetupAdminPass, models.RoleAdmin},
	}

	for _, a := range accounts {
		_, err := userService.Register(ctx, a.name, a.email, a.password, a.role)
		switch {
		case err == nil:
			fmt.Printf("Created %s account: %s\n", a.role, a.email)
		case errors.Is(err, services.ErrEmailExists):
			fmt.Printf("Account %s already exists, skipping.\n", a.email)
		default:
			log.Fatalf("Failed to create %s account: %v", a.role, err)
		}
	}
	fmt.Println("Setup complete.")
}
