package middleware

import (
	"net/http"
	"strings"

	"pipeflow/internal/config"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware applies the CORS policy from cfg.Security.CORS.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	cors := cfg.Security.CORS
	allowedOrigins := cors.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	methods := strings.Join(cors.AllowedMethods, ", ")
	if methods == "" {
		methods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	headers := strings.Join(cors.AllowedHeaders, ", ")
	if headers == "" {
		headers = "*"
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := ""
		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				allowed = o
				break
			}
		}
		if allowed != "" {
			c.Header("Access-Control-Allow-Origin", allowed)
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
