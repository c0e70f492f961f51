// Package handler exposes the pipeline, relations, mute settings and timelines over HTTP.
package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/d60-Lab/timeline-pipeline/internal/notify"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
	"github.com/d60-Lab/timeline-pipeline/internal/service"
	"github.com/d60-Lab/timeline-pipeline/internal/timeline"
	"github.com/d60-Lab/timeline-pipeline/pkg/response"
)

// FailureHistory is the recent-failure view of the notification sink.
type FailureHistory interface {
	Recent() []notify.Failure
	Suppressed() int64
}

type Handler struct {
	pipeline  *service.Pipeline
	timelines *timeline.Registry
	failures  FailureHistory
	// FeedLink is the base URL used in RSS item links.
	FeedLink string
}

func New(p *service.Pipeline, timelines *timeline.Registry, failures FailureHistory) *Handler {
	return &Handler{pipeline: p, timelines: timelines, failures: failures, FeedLink: "http://localhost:8080"}
}

func paramInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		response.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

// fail maps service errors onto the response envelope.
func fail(c *gin.Context, err error) {
	var specErr *timeline.SpecError
	switch {
	case errors.As(err, &specErr):
		response.BadRequest(c, err.Error())
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, timeline.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrStopped), errors.Is(err, service.ErrQueueFull):
		response.Unavailable(c, err.Error())
	case errors.Is(err, service.ErrUnknownAccount),
		errors.Is(err, service.ErrEmptyText),
		errors.Is(err, service.ErrBlockSelf),
		errors.Is(err, service.ErrFollowSelf),
		errors.Is(err, timeline.ErrNotFilter),
		errors.Is(err, timeline.ErrDisposed):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
