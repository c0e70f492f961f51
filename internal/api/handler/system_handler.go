package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-pipeline/internal/notify"
	"github.com/d60-Lab/timeline-pipeline/pkg/response"
)

// Healthz 队列深度和订阅数
// @Router /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	response.Success(c, gin.H{
		"status":             "ok",
		"inbox_pending":      h.pipeline.Inbox.Len(),
		"broadcast_pending":  h.pipeline.Broadcaster.Len(),
		"interaction_queued": h.pipeline.Interactions.QueueLen(),
		"subscribers":        h.pipeline.Broadcaster.Point().Len(),
		"timelines":          len(h.timelines.List()),
	})
}

// Failures 最近的失败通知，最新的在前
// @Router /api/v1/failures [get]
func (h *Handler) Failures(c *gin.Context) {
	if h.failures == nil {
		response.Success(c, gin.H{"list": []notify.Failure{}, "suppressed": 0})
		return
	}
	response.Success(c, gin.H{"list": h.failures.Recent(), "suppressed": h.failures.Suppressed()})
}
