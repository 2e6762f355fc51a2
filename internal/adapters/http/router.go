package http

import (
	"context"

	"github.com/dkeye/Beacon/internal/adapters/events"
	"github.com/dkeye/Beacon/internal/app/auth"
	"github.com/dkeye/Beacon/internal/app/directory"
	"github.com/dkeye/Beacon/internal/app/location"
	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/app/profile"
	"github.com/dkeye/Beacon/internal/app/push"
	"github.com/dkeye/Beacon/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Services are the application entry points exposed over the local API.
type Services struct {
	Orch      *orch.Orchestrator
	Auth      *auth.Manager
	Directory *directory.Service
	Location  *location.Service
	Profile   *profile.Service
	Push      *push.Registrar
	Events    *events.Controller
}

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, svc *Services) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, MaxAge: 3600 * 24 * 7})
	r.Use(sessions.Sessions("BeaconSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{svc: svc}
	api := r.Group("/api")

	a := api.Group("/auth")
	a.POST("/signin", h.signIn)
	a.POST("/signup", h.signUp)
	a.POST("/restore", h.restore)
	a.POST("/signout", h.signOut)
	a.GET("/me", h.requireUser, h.me)
	a.PUT("/biometrics", h.setBiometrics)

	authed := api.Group("", h.requireUser)
	authed.GET("/groups", h.groups)
	authed.GET("/areas", h.areas)

	g := authed.Group("/groups/:id")
	g.GET("/customers", h.customers)
	g.POST("/chat", h.openChat)
	g.DELETE("/chat", h.closeChat)
	g.GET("/messages", h.messages)
	g.POST("/messages", h.sendMessage)
	g.POST("/media", h.sendMedia)
	g.GET("/presence", h.presence)
	g.POST("/call", h.joinCall)
	g.GET("/call", h.callState)
	g.DELETE("/call", h.hangup)
	g.POST("/call/mute", h.mutePeer)

	authed.POST("/canvas", h.openCanvas)
	authed.GET("/canvas", h.canvasState)
	authed.DELETE("/canvas", h.closeCanvas)

	authed.GET("/location/stats", h.locationStats)
	authed.POST("/location", h.recordLocation)

	authed.GET("/profile", h.getProfile)
	authed.PATCH("/profile", h.updateProfile)
	authed.POST("/profile/avatar", h.uploadAvatar)

	authed.POST("/push/token", h.registerPush)

	api.GET("/ws/events", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws events endpoint hit")
		svc.Events.Handle(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
