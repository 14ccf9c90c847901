package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	redisc "github.com/slidecraft/server/internal/pkg/redis"
	"github.com/slidecraft/server/internal/pkg/response"
)

const (
	idempotenceHeader    = "x-idempotence"
	idempotencyKeyHeader = "Idempotency-Key"
	idempotenceTTL       = 60 * time.Second
)

// Idempotence rejects a repeated POST while the first one is still being
// handled, and for idempotenceTTL after it succeeded. Failed requests
// release the key so the client may retry.
func Idempotence(rc *redisc.Client, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[normalizePath(p)] = struct{}{}
	}

	return func(c *gin.Context) {
		if rc == nil || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		if _, ok := skip[normalizePath(c.Request.URL.Path)]; ok {
			c.Next()
			return
		}

		key, err := resolveIdempotenceKey(c)
		if err != nil || key == "" {
			c.Next()
			return
		}

		redisKey := redisc.Key("idempotence", key)
		ctx := c.Request.Context()
		rdb := rc.Raw()

		acquired, err := rdb.SetNX(ctx, redisKey, "0", idempotenceTTL).Result()
		if err != nil {
			c.Next()
			return
		}
		if !acquired {
			val, err := rdb.Get(ctx, redisKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				c.Next()
				return
			}
			msg := "identical request already succeeded, wait before resending"
			if val == "0" {
				msg = "identical request is still being processed"
			}
			response.Conflict(c, msg)
			return
		}

		c.Next()

		status := c.Writer.Status()
		if status >= 200 && status < 300 {
			rdb.Set(ctx, redisKey, "1", redis.KeepTTL)
		} else {
			rdb.Del(ctx, redisKey)
		}
	}
}

func normalizePath(p string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(p)), "/")
}

// resolveIdempotenceKey prefers a client-supplied key and otherwise hashes
// the request line, body and caller identity.
func resolveIdempotenceKey(c *gin.Context) (string, error) {
	for _, h := range []string{idempotenceHeader, idempotencyKeyHeader} {
		if v := strings.TrimSpace(c.GetHeader(h)); v != "" {
			sum := sha256.Sum256([]byte(CurrentUserID(c) + "|" + v))
			return hex.EncodeToString(sum[:]), nil
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	identity := NormalizeToken(c.GetHeader("Authorization"))
	if identity == "" {
		identity = c.ClientIP() + "|" + c.Request.UserAgent()
	}
	raw := c.Request.Method + "|" + c.Request.URL.String() + "|" + string(body) + "|" + identity
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:]), nil
}
