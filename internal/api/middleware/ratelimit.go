package middleware

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"rentfold/rf/internal/config"
	"rentfold/rf/internal/services"
)

// clientLimiter stores rate limiters for a specific client.
type clientLimiter struct {
	softLimiter *rate.Limiter
	hardLimiter *rate.Limiter
	lastSeen    time.Time
}

// RateLimiterMiddleware manages per-client rate limiting. The soft limit
// gates unverified clients behind a captcha challenge; the hard limit caps
// everyone.
type RateLimiterMiddleware struct {
	clients       map[string]*clientLimiter
	mu            sync.Mutex
	cfg           *config.Config          // For defaults
	configService services.IConfigService // For runtime-tuned limits
}

// NewRateLimiterMiddleware creates a new RateLimiterMiddleware.
func NewRateLimiterMiddleware(cfg *config.Config, configService services.IConfigService) *RateLimiterMiddleware {
	rm := &RateLimiterMiddleware{
		clients:       make(map[string]*clientLimiter),
		cfg:           cfg,
		configService: configService,
	}
	// Start a background goroutine to clean up old client entries
	go rm.cleanupClients()
	return rm
}

// getClientIdentifier creates a unique key based on IP, Fingerprint, and SPA Session ID.
func getClientIdentifier(c *gin.Context) string {
	ip := c.ClientIP()
	fingerprint := c.GetHeader("X-BFP")
	spaSession := c.GetHeader("X-SPA")
	return fmt.Sprintf("%s|%s|%s", ip, fingerprint, spaSession)
}

// getClientLimiter retrieves or creates the rate limiters for a given client identifier.
func (rm *RateLimiterMiddleware) getClientLimiter(identifier string, softRate, softBurst, hardRate, hardBurst int) *clientLimiter {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	limiter, exists := rm.clients[identifier]
	if !exists {
		limiter = &clientLimiter{
			softLimiter: rate.NewLimiter(rate.Limit(softRate), softBurst),
			hardLimiter: rate.NewLimiter(rate.Limit(hardRate), hardBurst),
		}
		rm.clients[identifier] = limiter
	}
	limiter.lastSeen = time.Now()
	return limiter
}

// cleanupClients periodically removes old client entries from the map.
func (rm *RateLimiterMiddleware) cleanupClients() {
	for {
		time.Sleep(10 * time.Minute)
		rm.mu.Lock()
		count := 0
		for id, client := range rm.clients {
			if time.Since(client.lastSeen) > 30*time.Minute {
				delete(rm.clients, id)
				count++
			}
		}
		rm.mu.Unlock()
		if count > 0 {
			log.Printf("Rate limiter cleanup removed %d old client entries.", count)
		}
	}
}

// Limit creates the Gin middleware handler.
func (rm *RateLimiterMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := getClientIdentifier(c)
		ctx := c.Request.Context()

		// Limits can be tuned at runtime through the config service.
		softRate := rm.configService.GetInt(ctx, "RATE_LIMIT_SOFT_REFILL_RATE", rm.cfg.RateLimitSoftRefillRate)
		softBurst := rm.configService.GetInt(ctx, "RATE_LIMIT_SOFT_BUCKET_SIZE", rm.cfg.RateLimitSoftBucketSize)
		hardRate := rm.configService.GetInt(ctx, "RATE_LIMIT_HARD_REFILL_RATE", rm.cfg.RateLimitHardRefillRate)
		hardBurst := rm.configService.GetInt(ctx, "RATE_LIMIT_HARD_BUCKET_SIZE", rm.cfg.RateLimitHardBucketSize)

		limiter := rm.getClientLimiter(clientKey, softRate, softBurst, hardRate, hardBurst)

		if !limiter.hardLimiter.Allow() {
			log.Printf("Hard rate limit exceeded for client: %s on %s", clientKey, c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		// Soft limit applies only to clients not verified as human by the
		// captcha middleware.
		isHuman := c.GetBool(ContextKeyIsHumanVerified)
		if !isHuman && !limiter.softLimiter.Allow() {
			log.Printf("Soft rate limit exceeded for client: %s on %s (captcha required)", clientKey, c.FullPath())
			c.AbortWithStatusJSON(http.StatusTeapot, gin.H{"error": "Captcha validation required"})
			return
		}

		c.Next()
	}
}
