package api

import (
	"net/http"
	"sync"
	"time"

	logx "pinetick/pkg/logx"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// accessLog writes one line per request. 5xx responses log at warn.
func accessLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("latency", time.Since(start)),
			logx.String("client", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Warn("http request", fields...)
			return
		}
		log.Debug("http request", fields...)
	}
}

// limiter is a process-wide token bucket; a zero rate lets everything through.
type limiter struct {
	mu  sync.RWMutex
	lim *rate.Limiter
}

func (l *limiter) set(perSec float64, burst int) {
	var lim *rate.Limiter
	if perSec > 0 {
		if burst <= 0 {
			burst = int(perSec)
			if burst < 1 {
				burst = 1
			}
		}
		lim = rate.NewLimiter(rate.Limit(perSec), burst)
	}
	l.mu.Lock()
	l.lim = lim
	l.mu.Unlock()
}

func (l *limiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		l.mu.RLock()
		lim := l.lim
		l.mu.RUnlock()
		if lim != nil && !lim.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
