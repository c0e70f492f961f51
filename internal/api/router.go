// Package api wires the HTTP handlers onto a gin engine.
package api

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/timeline-pipeline/config"
	"github.com/d60-Lab/timeline-pipeline/internal/api/handler"
)

const serviceName = "timelined"

// NewRouter builds the engine. A zero RateLimit disables rate limiting.
func NewRouter(cfg config.ServerConfig, h *handler.Handler, log *zap.Logger) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	if cfg.FeedLink != "" {
		h.FeedLink = cfg.FeedLink
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(otelgin.Middleware(serviceName))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	if cfg.RateLimit > 0 {
		v1.Use(RateLimit(NewRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)))
	}
	{
		accounts := v1.Group("/accounts")
		accounts.POST("", h.AddAccount)
		accounts.GET("", h.ListAccounts)
		accounts.DELETE("/:id", h.RemoveAccount)

		relations := v1.Group("/relations")
		relations.POST("/follow", h.Follow)
		relations.POST("/unfollow", h.Unfollow)
		relations.POST("/block", h.Block)
		relations.POST("/unblock", h.Unblock)
		relations.GET("/:account_id/following", h.ListFollowing)
		relations.GET("/:account_id/blocks", h.ListBlocked)

		statuses := v1.Group("/statuses")
		statuses.POST("", h.IngestStatus)
		statuses.POST("/compose", h.Compose)
		statuses.GET("/:id", h.GetStatus)
		statuses.DELETE("/:id", h.DeleteStatus)
		statuses.POST("/:id/favorites", h.Favorite)
		statuses.DELETE("/:id/favorites", h.Unfavorite)

		v1.GET("/mute", h.GetMute)
		v1.PUT("/mute", h.UpdateMute)

		timelines := v1.Group("/timelines")
		timelines.POST("", h.CreateTimeline)
		timelines.GET("", h.ListTimelines)
		timelines.GET("/:id", h.GetTimeline)
		timelines.DELETE("/:id", h.DeleteTimeline)
		timelines.POST("/:id/read-more", h.ReadMore)
		timelines.POST("/:id/invalidate", h.InvalidateTimeline)
		timelines.POST("/:id/activate", h.ActivateTimeline)
		timelines.POST("/:id/deactivate", h.DeactivateTimeline)
		timelines.PUT("/:id/rule", h.UpdateTimelineRule)
		timelines.GET("/:id/feed.rss", h.TimelineFeed)

		v1.GET("/failures", h.Failures)
	}
	return r
}
