package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// IPRateLimitMiddleware limits all API traffic per client address. Limiter
// failures never block a request.
func (rl *RateLimiter) IPRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := rl.AllowIP(c.Request.Context(), ip)
		if err != nil {
			slog.Error("Rate limit check failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitBlock()
			}
			rl.reject(c, result, "rate limit exceeded",
				fmt.Sprintf("You have exceeded the rate limit of %d requests per minute", result.Limit))
			return
		}
		c.Next()
	}
}

// AnalyzeRateLimitMiddleware bounds analysis runs per project. Applied to
// the analyze route only; the project id comes from the route parameter.
func (rl *RateLimiter) AnalyzeRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectID := c.Param("id")
		if projectID == "" {
			c.Next()
			return
		}

		result, err := rl.AllowAnalyze(c.Request.Context(), projectID)
		if err != nil {
			slog.Error("Analyze rate limit check failed", "project_id", projectID, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitBlock()
			}
			rl.reject(c, result, "analysis rate limit exceeded",
				fmt.Sprintf("This project can be analyzed at most %d times per hour", result.Limit))
			return
		}
		c.Next()
	}
}

// VoteRateLimitMiddleware bounds vote submissions per authenticated
// identity, falling back to the client address when unauthenticated.
func (rl *RateLimiter) VoteRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := c.GetString("identity")
		if identity == "" {
			identity = c.ClientIP()
		}

		result, err := rl.AllowVote(c.Request.Context(), identity)
		if err != nil {
			slog.Error("Vote rate limit check failed", "error", err)
			c.Next()
			return
		}

		if !result.Allowed {
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitBlock()
			}
			rl.reject(c, result, "vote rate limit exceeded",
				fmt.Sprintf("You can submit at most %d votes per minute", result.Limit))
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) reject(c *gin.Context, result *Result, errMsg, message string) {
	retryAfter := int(result.RetryAfter.Seconds())
	if retryAfter <= 0 {
		retryAfter = int(time.Until(result.ResetAt).Seconds())
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":       errMsg,
		"message":     message,
		"retry_after": retryAfter,
		"reset_at":    result.ResetAt.Unix(),
	})
	c.Abort()
}
