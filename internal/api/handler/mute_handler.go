package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-pipeline/internal/mute"
	"github.com/d60-Lab/timeline-pipeline/pkg/response"
)

// GetMute 当前静音设置
// @Router /api/v1/mute [get]
func (h *Handler) GetMute(c *gin.Context) {
	response.Success(c, h.pipeline.Mutes.Settings())
}

// UpdateMute 整体替换静音设置
// @Summary 更新静音设置
// @Tags 静音
// @Accept json
// @Param request body mute.Settings true "静音设置"
// @Success 200 {object} response.Response
// @Router /api/v1/mute [put]
func (h *Handler) UpdateMute(c *gin.Context) {
	var req mute.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.pipeline.Mutes.Update(req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, req)
}
