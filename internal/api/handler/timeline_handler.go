package handler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/feeds"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/predicate"
	"github.com/d60-Lab/timeline-pipeline/internal/timeline"
	"github.com/d60-Lab/timeline-pipeline/pkg/response"
)

type timelineView struct {
	ID         string          `json:"id"`
	Spec       timeline.Spec   `json:"spec"`
	Loading    bool            `json:"loading"`
	Subscribed bool            `json:"subscribed"`
	Size       int             `json:"size"`
	TrimLine   *time.Time      `json:"trim_line,omitempty"`
	Items      []*model.Status `json:"items,omitempty"`
}

func (h *Handler) view(m *timeline.Model, limit int) timelineView {
	spec, _ := h.timelines.Spec(m.ID)
	items := m.Snapshot()
	v := timelineView{
		ID:         m.ID,
		Spec:       spec,
		Loading:    m.IsLoading(),
		Subscribed: m.IsSubscribeBroadcaster(),
		Size:       len(items),
	}
	if line, ok := m.TrimLine(); ok {
		v.TrimLine = &line
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	if limit != 0 {
		v.Items = items
	}
	return v
}

func (h *Handler) lookup(c *gin.Context) (*timeline.Model, bool) {
	m, err := h.timelines.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return m, true
}

// CreateTimeline 创建时间线并加载第一页
// @Summary 创建时间线
// @Tags 时间线
// @Accept json
// @Produce json
// @Param request body timeline.Spec true "时间线定义"
// @Success 200 {object} response.Response
// @Router /api/v1/timelines [post]
func (h *Handler) CreateTimeline(c *gin.Context) {
	var spec timeline.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	m, err := h.timelines.Create(c.Request.Context(), spec)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, h.view(m, 0))
}

// ListTimelines 全部时间线概要
// @Router /api/v1/timelines [get]
func (h *Handler) ListTimelines(c *gin.Context) {
	var list []timelineView
	for _, id := range h.timelines.List() {
		if m, err := h.timelines.Get(id); err == nil {
			list = append(list, h.view(m, 0))
		}
	}
	response.Success(c, gin.H{"list": list})
}

// GetTimeline 时间线窗口内容，limit=-1 返回全部
// @Param limit query int false "条数" default(50)
// @Router /api/v1/timelines/{id} [get]
func (h *Handler) GetTimeline(c *gin.Context) {
	m, ok := h.lookup(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		response.BadRequest(c, "invalid limit")
		return
	}
	if limit == 0 {
		limit = 50
	}
	response.Success(c, h.view(m, limit))
}

type readMoreRequest struct {
	MaxID *int64 `json:"max_id"`
}

// ReadMore 向后翻页
// @Router /api/v1/timelines/{id}/read-more [post]
func (h *Handler) ReadMore(c *gin.Context) {
	m, ok := h.lookup(c)
	if !ok {
		return
	}
	var req readMoreRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	if req.MaxID == nil {
		// 默认从窗口最旧一条往后翻
		if items := m.Snapshot(); len(items) > 0 {
			oldest := items[len(items)-1].ID
			req.MaxID = &oldest
		}
	}
	n, err := m.ReadMore(c.Request.Context(), req.MaxID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"inserted": n, "size": m.Len()})
}

// InvalidateTimeline 重新加载；debounce=true 时走防抖
// @Router /api/v1/timelines/{id}/invalidate [post]
func (h *Handler) InvalidateTimeline(c *gin.Context) {
	m, ok := h.lookup(c)
	if !ok {
		return
	}
	if c.Query("debounce") == "true" {
		m.QueueInvalidateTimeline()
		response.Accepted(c, nil)
		return
	}
	if err := m.InvalidateTimeline(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, h.view(m, 0))
}

// ActivateTimeline 订阅广播
// @Router /api/v1/timelines/{id}/activate [post]
func (h *Handler) ActivateTimeline(c *gin.Context) {
	m, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := m.Activate(); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, h.view(m, 0))
}

// DeactivateTimeline 取消订阅，保留窗口
// @Router /api/v1/timelines/{id}/deactivate [post]
func (h *Handler) DeactivateTimeline(c *gin.Context) {
	m, ok := h.lookup(c)
	if !ok {
		return
	}
	m.Deactivate()
	response.Success(c, h.view(m, 0))
}

// UpdateTimelineRule 修改过滤规则，防抖后重新加载
// @Router /api/v1/timelines/{id}/rule [put]
func (h *Handler) UpdateTimelineRule(c *gin.Context) {
	var rule predicate.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.timelines.UpdateRule(c.Param("id"), rule); err != nil {
		fail(c, err)
		return
	}
	response.Accepted(c, nil)
}

// DeleteTimeline 销毁时间线
// @Router /api/v1/timelines/{id} [delete]
func (h *Handler) DeleteTimeline(c *gin.Context) {
	if err := h.timelines.Remove(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

// TimelineFeed 以 RSS 输出窗口内容
// @Router /api/v1/timelines/{id}/feed.rss [get]
func (h *Handler) TimelineFeed(c *gin.Context) {
	m, ok := h.lookup(c)
	if !ok {
		return
	}
	rss, err := h.renderFeed(m)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	c.Header("Content-Type", "application/rss+xml; charset=utf-8")
	c.String(200, rss)
}

func (h *Handler) renderFeed(m *timeline.Model) (string, error) {
	spec, _ := h.timelines.Spec(m.ID)
	link := fmt.Sprintf("%s/api/v1/timelines/%s", h.FeedLink, m.ID)
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s timeline", spec.Kind),
		Link:        &feeds.Link{Href: link},
		Description: "timeline " + m.ID,
		Created:     time.Now(),
	}
	for _, s := range m.Snapshot() {
		author := fmt.Sprintf("user %d", s.UserID)
		if s.User != nil && s.User.ScreenName != "" {
			author = "@" + s.User.ScreenName
		}
		feed.Items = append(feed.Items, &feeds.Item{
			Id:      strconv.FormatInt(s.ID, 10),
			Title:   fmt.Sprintf("%s at %s", author, s.CreatedAt.UTC().Format(time.RFC3339)),
			Link:    &feeds.Link{Href: fmt.Sprintf("%s/api/v1/statuses/%d", h.FeedLink, s.ID)},
			Content: s.Text,
			Author:  &feeds.Author{Name: author},
			Created: s.CreatedAt,
		})
	}
	return feed.ToRss()
}
