package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowAllOrigins bool
	AllowOrigins    []string // exact origins or "*.domain" wildcards
	AllowMethods    []string
	AllowHeaders    []string
	ExposeHeaders   []string
	MaxAge          time.Duration
}

var (
	corsMethods = []string{"GET", "POST", "OPTIONS"}
	corsHeaders = []string{
		"Origin",
		"Content-Type",
		"Authorization",
		"Accept",
		"X-Request-ID",
		"X-Device-Type",
		"X-App-Version",
	}
	corsExposed = []string{
		"X-Request-ID",
		"X-Response-Time",
		"X-RateLimit-Remaining",
		"Retry-After",
	}
)

// CORSConfigFor returns the configuration for an environment. Development
// accepts any origin so the PWA can be served from a LAN address.
func CORSConfigFor(environment string) CORSConfig {
	config := CORSConfig{
		AllowOrigins:  []string{"https://safewalk.app", "*.safewalk.app"},
		AllowMethods:  corsMethods,
		AllowHeaders:  corsHeaders,
		ExposeHeaders: corsExposed,
		MaxAge:        12 * time.Hour,
	}

	switch environment {
	case "production":
		config.MaxAge = 24 * time.Hour
	case "development":
		config.AllowAllOrigins = true
	default:
		config.AllowOrigins = append(config.AllowOrigins, "http://localhost:3000", "http://localhost:5173")
	}
	return config
}

// CORS returns a CORS middleware with the given configuration. Credentials
// are always allowed, so the origin is echoed rather than "*".
func CORS(config CORSConfig) gin.HandlerFunc {
	allowMethods := strings.Join(config.AllowMethods, ", ")
	allowHeaders := strings.Join(config.AllowHeaders, ", ")
	exposeHeaders := strings.Join(config.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(int(config.MaxAge.Seconds()))

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		preflight := c.Request.Method == http.MethodOptions

		if origin != "" {
			c.Header("Vary", "Origin")
			if config.originAllowed(origin) {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				if preflight {
					c.Header("Access-Control-Allow-Methods", allowMethods)
					c.Header("Access-Control-Allow-Headers", allowHeaders)
					c.Header("Access-Control-Max-Age", maxAge)
				} else if exposeHeaders != "" {
					c.Header("Access-Control-Expose-Headers", exposeHeaders)
				}
			} else {
				logrus.Warnf("CORS: origin not allowed: %s", origin)
			}
		}

		if preflight {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (config CORSConfig) originAllowed(origin string) bool {
	if config.AllowAllOrigins {
		return true
	}
	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	for _, allowed := range config.AllowOrigins {
		if allowed == origin {
			return true
		}
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(host, allowed[1:]) {
			return true
		}
	}
	return false
}

// CORSMiddleware selects the CORS configuration for the environment.
func CORSMiddleware(environment string) gin.HandlerFunc {
	logrus.Infof("Using %s CORS configuration", environment)
	return CORS(CORSConfigFor(environment))
}
