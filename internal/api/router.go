package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"prodtest-backend/config"
	"prodtest-backend/internal/mw"
	"prodtest-backend/internal/notification"
	"prodtest-backend/internal/relay"
	"prodtest-backend/internal/store"
	"prodtest-backend/internal/ws"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, s store.Store, hub *ws.Hub, rel *relay.Relay, runner relay.StageRunner, pool *notification.WorkerPool, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := NewHandler(s, hub, rel, runner, pool, webpushOptions, cfg.Cloud.Enabled)
	wsHandler := ws.NewHandler(hub, cfg.CORS.AllowedOrigins)

	r.GET("/", handler.Root)
	r.GET("/health", handler.Health)
	r.GET("/ws", wsHandler.Serve)

	// Initialize middleware
	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst, cfg.Server.RequestIPHeader)

	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 10*time.Minute)
	caching := mw.Cache(cacheStore, cacheTTL)

	// API group
	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.POST("/test-records/", handler.CreateTestRecord)
		api.GET("/test-records/", caching, handler.ListTestRecords)
		api.GET("/test-records/:id", handler.GetTestRecord)
		api.PUT("/test-records/:id", handler.UpdateTestRecord)
		api.DELETE("/test-records/:id", handler.DeleteTestRecord)

		api.GET("/upload-logs", caching, handler.ListUploadLogs)

		pcba := api.Group("/pcba")
		{
			pcba.POST("/events", handler.PostPcbaEvent)
			pcba.POST("/start-test", handler.StartTest)
			pcba.POST("/debug-broadcast", handler.DebugBroadcast)
		}

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
