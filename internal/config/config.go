package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort        string
	ServiceApiPort string

	// Cloudflare Turnstile
	CloudflareTurnstileSecretKey string
	CloudflareSiteVerifyURL      string
	CaptchaTokenTTL              time.Duration

	// Billing
	RentCycleDays       int
	InvoiceDueDays      int
	LateFeeAmount       float64
	DefaultCurrencyCode string

	// Payment gateway
	PaymentGatewayURL    string
	PaymentGatewaySecret string

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string

	// AWS S3
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	DocumentBaseS3URL  string
	ImageMaxDimension  int
	ImageMaxSizeMB     int

	// App Defaults
	AppName           string
	AppBaseURL        string
	PasswordRegexp    string
	InvitationTTL     time.Duration
	MaxPhantomAge     time.Duration
	UnreadCacheTTL    time.Duration
	RebuildLockTTL    time.Duration
	SetupLandlordPass string
	SetupRenterPass   string
	SetupAdminPass    string

	// Rate Limiting Defaults
	RateLimitSoftBucketSize int
	RateLimitSoftRefillRate int // tokens per second
	RateLimitHardBucketSize int
	RateLimitHardRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode, // Set from flag
	}

	var err error

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	// Basic string values
	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "rentfold")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.CloudflareTurnstileSecretKey = getEnv("CLOUDFLARE_TURNSTILE_SECRET_KEY", "")
	cfg.CloudflareSiteVerifyURL = getEnv("CLOUDFLARE_SITEVERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify")
	cfg.PaymentGatewayURL = getEnv("PAYMENT_GATEWAY_URL", "")
	cfg.PaymentGatewaySecret = getEnv("PAYMENT_GATEWAY_SECRET", "")
	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@rentfold.example.com")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.DocumentBaseS3URL = getEnv("DOCUMENT_BASE_S3_URL", "")
	cfg.AppName = getEnv("APP_NAME", "Rentfold")
	cfg.AppBaseURL = getEnv("APP_BASE_URL", "http://localhost:3000")
	cfg.PasswordRegexp = getEnv("PASSWORD_REGEXP", "^.{8,}$")
	cfg.DefaultCurrencyCode = getEnv("DEFAULT_CURRENCY_CODE", "USD")
	cfg.SetupLandlordPass = getEnv("SETUP_LANDLORD_PASSWORD", "landlord123")
	cfg.SetupRenterPass = getEnv("SETUP_RENTER_PASSWORD", "renter123")
	cfg.SetupAdminPass = getEnv("SETUP_ADMIN_PASSWORD", "admin123")

	// Numeric and duration values
	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	jwtTTLSeconds, err := strconv.ParseInt(getEnv("JWT_TTL_SECONDS", "3600"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL_SECONDS: %w", err)
	}
	cfg.JwtTTL = time.Duration(jwtTTLSeconds) * time.Second

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	cfg.RentCycleDays, err = strconv.Atoi(getEnv("RENT_CYCLE_DAYS", "30"))
	if err != nil {
		return nil, fmt.Errorf("invalid RENT_CYCLE_DAYS: %w", err)
	}

	cfg.InvoiceDueDays, err = strconv.Atoi(getEnv("INVOICE_DUE_DAYS", "14"))
	if err != nil {
		return nil, fmt.Errorf("invalid INVOICE_DUE_DAYS: %w", err)
	}

	cfg.LateFeeAmount, err = strconv.ParseFloat(getEnv("LATE_FEE_AMOUNT", "50.00"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid LATE_FEE_AMOUNT: %w", err)
	}

	cfg.ImageMaxDimension, err = strconv.Atoi(getEnv("IMAGE_MAX_DIMENSION", "2048"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_MAX_DIMENSION: %w", err)
	}

	cfg.ImageMaxSizeMB, err = strconv.Atoi(getEnv("IMAGE_MAX_SIZE_MB", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid IMAGE_MAX_SIZE_MB: %w", err)
	}

	invitationTTLHours, err := strconv.ParseInt(getEnv("INVITATION_TTL_HOURS", "336"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid INVITATION_TTL_HOURS: %w", err)
	}
	cfg.InvitationTTL = time.Duration(invitationTTLHours) * time.Hour

	maxPhantomAgeSeconds, err := strconv.ParseInt(getEnv("MAX_PHANTOM_AGE_SECONDS", "172800"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_PHANTOM_AGE_SECONDS: %w", err)
	}
	cfg.MaxPhantomAge = time.Duration(maxPhantomAgeSeconds) * time.Second

	unreadCacheTTLSeconds, err := strconv.ParseInt(getEnv("UNREAD_CACHE_TTL_SECONDS", "60"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid UNREAD_CACHE_TTL_SECONDS: %w", err)
	}
	cfg.UnreadCacheTTL = time.Duration(unreadCacheTTLSeconds) * time.Second

	captchaTokenTTLSeconds, err := strconv.ParseInt(getEnv("CAPTCHA_TOKEN_TTL_SECONDS", "1800"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CAPTCHA_TOKEN_TTL_SECONDS: %w", err)
	}
	cfg.CaptchaTokenTTL = time.Duration(captchaTokenTTLSeconds) * time.Second

	rebuildLockTTLSeconds, err := strconv.ParseInt(getEnv("REBUILD_LOCK_TTL_SECONDS", "30"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid REBUILD_LOCK_TTL_SECONDS: %w", err)
	}
	cfg.RebuildLockTTL = time.Duration(rebuildLockTTLSeconds) * time.Second

	// Rate Limiting
	cfg.RateLimitSoftBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_SOFT_BUCKET_SIZE", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SOFT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitSoftRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_SOFT_REFILL_RATE", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_SOFT_REFILL_RATE: %w", err)
	}
	cfg.RateLimitHardBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_HARD_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_HARD_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitHardRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_HARD_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_HARD_REFILL_RATE: %w", err)
	}

	return cfg, nil
}
