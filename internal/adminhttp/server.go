// Package adminhttp exposes a small read-only HTTP API for inspecting a
// running daemon: what sessions are open and, when audit logging is
// enabled, what recently finished. It carries no write endpoints and no
// authentication of its own — operators are expected to put it behind a
// reverse proxy or bind it to a private interface.
package adminhttp

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/solemnwarning/ice-9/internal/audit"
	"github.com/solemnwarning/ice-9/internal/server"
)

// New builds the admin API's http.Handler. auditSink may be nil, in
// which case /api/audit/recent reports 404.
func New(log *zap.Logger, srv *server.Server, auditSink *audit.Sink) http.Handler {
	log = log.Named("adminhttp")
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	_ = r.SetTrustedProxies(nil)

	r.Use(gin.Recovery())
	r.Use(secure.New(secure.Config{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	}))
	if os.Getenv("ENV") == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins: []string{"http://localhost:5173"},
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	r.Use(requestID())
	r.Use(zapLogger(log))

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	r.GET("/api/sessions", func(c *gin.Context) {
		sessions := srv.Sessions()
		c.JSON(http.StatusOK, gin.H{
			"capacity": srv.Capacity(),
			"occupied": srv.Occupied(),
			"sessions": sessions,
		})
	})

	if auditSink != nil {
		r.GET("/api/audit/recent", func(c *gin.Context) {
			recent, err := auditSink.Recent(100)
			if err != nil {
				_ = c.Error(err)
				c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
				return
			}
			c.JSON(http.StatusOK, recent)
		})
	} else {
		r.GET("/api/audit/recent", func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{"message": "audit logging is not enabled"})
		})
	}

	return r
}
