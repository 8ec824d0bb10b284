package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader 共享密钥请求头
const APIKeyHeader = "X-API-Key"

// RequireSharedKey 要求请求携带与配置一致的共享密钥，未配置密钥时端点不可用
func RequireSharedKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			abort(c, http.StatusServiceUnavailable, "该端点未启用")
			return
		}
		got := c.GetHeader(APIKeyHeader)
		if got == "" {
			abort(c, http.StatusUnauthorized, "缺少 API Key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			abort(c, http.StatusUnauthorized, "API Key无效")
			return
		}
		c.Next()
	}
}
