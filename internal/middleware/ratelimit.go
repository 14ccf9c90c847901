package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	redisc "github.com/slidecraft/server/internal/pkg/redis"
	"github.com/slidecraft/server/internal/pkg/response"
	"go.uber.org/zap"
)

// RateLimit caps requests per fixed window, keyed by user when
// authenticated and by client IP otherwise. Redis errors fail open.
func RateLimit(rc *redisc.Client, max int, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	if window <= 0 {
		window = time.Minute
	}
	return func(c *gin.Context) {
		if rc == nil || max <= 0 {
			c.Next()
			return
		}

		subject := "ip:" + c.ClientIP()
		if uid := CurrentUserID(c); uid != "" {
			subject = "user:" + uid
		}

		slot := time.Now().UnixNano() / int64(window)
		key := redisc.Key("rate_limit", subject, strconv.FormatInt(slot, 10))
		count, err := rc.IncrWindow(c.Request.Context(), key, window+time.Second)
		if err != nil {
			c.Next()
			return
		}

		if count > int64(max) {
			if log != nil {
				log.Warn("rate limited", zap.String("subject", subject), zap.String("path", c.Request.URL.Path))
			}
			retry := time.Duration(slot+1)*window - time.Duration(time.Now().UnixNano())
			secs := int(math.Ceil(retry.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			response.Error(c, http.StatusTooManyRequests, fmt.Sprintf("too many requests, limit is %d per %s", max, window))
			return
		}
		c.Next()
	}
}
