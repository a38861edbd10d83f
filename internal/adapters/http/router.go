package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware keeps a stable per-browser token in the cookie
// session. All sessions opened with one token belong to one user.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		store := sessions.Default(c)
		token, _ := store.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			store.Set(clientTokenKey, token)
			if err := store.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save client token")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctrl *signal.SignalWSController, metrics http.Handler) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	if metrics != nil && cfg.MetricsPath != "" {
		r.GET(cfg.MetricsPath, gin.WrapH(metrics))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": o.Rooms.List(o.Registry)})
	})

	api.DELETE("/rooms/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad room id"})
			return
		}
		rid := domain.RoomID(id)
		if _, ok := o.Rooms.Get(rid); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		o.EvictRoom(rid)
		log.Info().Str("module", "adapters.http").Str("room", rid.String()).Msg("room evicted")
		c.Status(http.StatusNoContent)
	})

	api.GET("/sessions/:sid", func(c *gin.Context) {
		s, ok := o.Registry.Get(core.SessionID(c.Param("sid")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		publishing, subscribers := false, 0
		if o.Relays != nil {
			publishing = o.Relays.HasRelay(s.ID())
			subscribers = o.Relays.Subscribers(s.ID())
		}
		c.JSON(http.StatusOK, gin.H{
			"id":          s.ID(),
			"username":    s.Username(),
			"created_at":  s.CreatedAt(),
			"state":       s.State().Snapshot(),
			"publishing":  publishing,
			"subscribers": subscribers,
		})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
