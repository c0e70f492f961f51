package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/service"
	"github.com/d60-Lab/timeline-pipeline/pkg/response"
)

// statusRequest 外部来源投递的推文
type statusRequest struct {
	ID          int64          `json:"id" binding:"required"`
	UserID      int64          `json:"user_id" binding:"required"`
	ScreenName  string         `json:"screen_name"`
	Name        string         `json:"name"`
	Text        string         `json:"text"`
	Source      string         `json:"source"`
	CreatedAt   time.Time      `json:"created_at"`
	RecipientID *int64         `json:"recipient_id"`
	RetweetOf   *statusRequest `json:"retweeted_status"`
	// Backfill marks REST/search results rather than live arrivals.
	Backfill bool `json:"backfill"`
}

func (r *statusRequest) toModel() *model.Status {
	s := &model.Status{
		ID:          r.ID,
		UserID:      r.UserID,
		Text:        r.Text,
		Source:      r.Source,
		CreatedAt:   r.CreatedAt,
		RecipientID: r.RecipientID,
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if r.ScreenName != "" {
		s.User = &model.User{ID: r.UserID, ScreenName: r.ScreenName, Name: r.Name}
	}
	if r.RecipientID != nil {
		s.Kind = model.StatusKindDirectMessage
	}
	if r.RetweetOf != nil {
		s.WithRetweetOf(r.RetweetOf.toModel())
	}
	return s
}

// IngestStatus 投递一条推文到 Inbox
// @Summary 投递推文
// @Tags 推文
// @Accept json
// @Produce json
// @Param request body statusRequest true "推文"
// @Success 202 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /api/v1/statuses [post]
func (h *Handler) IngestStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	s := req.toModel()
	queue := h.pipeline.Inbox.Queue
	if req.Backfill {
		queue = h.pipeline.Inbox.QueueBackfill
	}
	if err := queue(s); err != nil {
		fail(c, err)
		return
	}
	response.Accepted(c, gin.H{"id": s.ID})
}

type composeRequest struct {
	AccountID   int64  `json:"account_id" binding:"required"`
	Text        string `json:"text"`
	Source      string `json:"source"`
	RecipientID *int64 `json:"recipient_id"`
	RetweetOf   *int64 `json:"retweet_of"`
}

// Compose 本地账号发推、私信或转推
// @Router /api/v1/statuses/compose [post]
func (h *Handler) Compose(c *gin.Context) {
	var req composeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	s, err := h.pipeline.Composer.Compose(c.Request.Context(), service.ComposeRequest{
		AccountID:   req.AccountID,
		Text:        req.Text,
		Source:      req.Source,
		RecipientID: req.RecipientID,
		RetweetOf:   req.RetweetOf,
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Accepted(c, s)
}

// GetStatus 读取已存储的推文
// @Router /api/v1/statuses/{id} [get]
func (h *Handler) GetStatus(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	s, err := h.pipeline.Statuses.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, s)
}

// DeleteStatus 删除推文，其转推一并删除
// @Router /api/v1/statuses/{id} [delete]
func (h *Handler) DeleteStatus(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	if err := h.pipeline.Inbox.QueueRemoval(id); err != nil {
		fail(c, err)
		return
	}
	response.Accepted(c, gin.H{"id": id})
}

type favoriteRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// Favorite 记录收藏，完成后重发该推文
// @Router /api/v1/statuses/{id}/favorites [post]
func (h *Handler) Favorite(c *gin.Context) {
	h.favorite(c, h.pipeline.Interactions.EnqueueFavorite)
}

// Unfavorite 取消收藏
// @Router /api/v1/statuses/{id}/favorites [delete]
func (h *Handler) Unfavorite(c *gin.Context) {
	h.favorite(c, h.pipeline.Interactions.EnqueueUnfavorite)
}

func (h *Handler) favorite(c *gin.Context, enqueue func(statusID, userID int64) error) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	var req favoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := enqueue(id, req.UserID); err != nil {
		fail(c, err)
		return
	}
	response.Accepted(c, gin.H{"id": id})
}
