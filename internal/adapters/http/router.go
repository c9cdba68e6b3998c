// Package http wires the gin surface: the read-only room directory,
// the relay token endpoint, and the signaling websocket upgrade.
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/yaswanth-hue/jamroom/internal/config"
	"github.com/yaswanth-hue/jamroom/internal/registry"
	"github.com/yaswanth-hue/jamroom/internal/signal"
	"github.com/yaswanth-hue/jamroom/internal/token"
)

// ClientTokenMiddleware hands every browser a stable client token
// cookie. It identifies a client across reconnects in the logs; the
// signaling layer still mints a fresh connection id per socket.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, _ := c.Cookie("ct")
		if tok == "" {
			tok = uuid.NewString()
			c.SetCookie("ct", tok, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", tok)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, reg *registry.Registry, ctl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = []string{cfg.AllowedOrigin}
	corsCfg.AllowCredentials = true
	r.Use(cors.New(corsCfg))

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("JamroomSessions", store))
	r.Use(ClientTokenMiddleware())

	tokens := token.NewBuilder(cfg.RTCAppID, cfg.RTCAppCertificate, cfg.RTCTokenTTL)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, reg.ListRooms())
	})

	api.GET("/rtc/token", func(c *gin.Context) {
		channel := c.Query("channelName")
		credential, err := tokens.Build(channel)
		if err != nil {
			if errors.Is(err, token.ErrEmptyChannel) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "channelName is required"})
				return
			}
			log.Error().Err(err).Str("module", "adapters.http").Msg("token build")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": credential})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client_token", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("origin", cfg.AllowedOrigin).Msg("router setup")
	return r
}
