package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/pkg/response"
)

type relationRequest struct {
	AccountID int64 `json:"account_id" binding:"required"`
	TargetID  int64 `json:"target_id" binding:"required"`
}

type accountRequest struct {
	ID         int64  `json:"id" binding:"required"`
	ScreenName string `json:"screen_name" binding:"required"`
}

// AddAccount 注册本地账号
// @Summary 注册本地账号
// @Tags 关系链
// @Accept json
// @Produce json
// @Param request body accountRequest true "账号信息"
// @Success 200 {object} response.Response
// @Router /api/v1/accounts [post]
func (h *Handler) AddAccount(c *gin.Context) {
	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	acc := &model.Account{ID: req.ID, ScreenName: req.ScreenName}
	if err := h.pipeline.Relationships.AddAccount(c.Request.Context(), acc); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, acc)
}

// ListAccounts 本地账号列表
// @Router /api/v1/accounts [get]
func (h *Handler) ListAccounts(c *gin.Context) {
	list, err := h.pipeline.Relationships.ListAccounts(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, list)
}

// RemoveAccount 删除本地账号及其屏蔽/关注
// @Router /api/v1/accounts/{id} [delete]
func (h *Handler) RemoveAccount(c *gin.Context) {
	id, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	if err := h.pipeline.Relationships.RemoveAccount(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

// Follow 关注
// @Summary 关注用户
// @Tags 关系链
// @Accept json
// @Produce json
// @Param request body relationRequest true "关注信息"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/relations/follow [post]
func (h *Handler) Follow(c *gin.Context) {
	h.relation(c, h.pipeline.Relationships.Follow)
}

// Unfollow 取消关注
// @Router /api/v1/relations/unfollow [post]
func (h *Handler) Unfollow(c *gin.Context) {
	h.relation(c, h.pipeline.Relationships.Unfollow)
}

// Block 屏蔽用户，屏蔽缓存在下次判定时重建
// @Summary 屏蔽用户
// @Tags 关系链
// @Accept json
// @Produce json
// @Param request body relationRequest true "屏蔽信息"
// @Success 200 {object} response.Response
// @Router /api/v1/relations/block [post]
func (h *Handler) Block(c *gin.Context) {
	h.relation(c, h.pipeline.Relationships.Block)
}

// Unblock 取消屏蔽
// @Router /api/v1/relations/unblock [post]
func (h *Handler) Unblock(c *gin.Context) {
	h.relation(c, h.pipeline.Relationships.Unblock)
}

func (h *Handler) relation(c *gin.Context, op func(ctx context.Context, accountID, targetID int64) error) {
	var req relationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := op(c.Request.Context(), req.AccountID, req.TargetID); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, nil)
}

// ListFollowing 查询某账号关注的人
// @Summary 查询关注列表
// @Tags 关系链
// @Param account_id path int true "账号ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/relations/{account_id}/following [get]
func (h *Handler) ListFollowing(c *gin.Context) {
	accountID, ok := paramInt64(c, "account_id")
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	list, err := h.pipeline.Relationships.ListFollowing(c.Request.Context(), accountID, page, pageSize)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"page": page, "page_size": pageSize, "list": list})
}

// ListBlocked 查询某账号屏蔽的人
// @Router /api/v1/relations/{account_id}/blocks [get]
func (h *Handler) ListBlocked(c *gin.Context) {
	accountID, ok := paramInt64(c, "account_id")
	if !ok {
		return
	}
	list, err := h.pipeline.Relationships.ListBlockedIDs(c.Request.Context(), accountID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"list": list})
}
