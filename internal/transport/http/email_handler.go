package httptransport

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/middleware"
)

type emailListResponse struct {
	Emails []*domain.EmailRecord `json:"emails"`
	Count  int                   `json:"count"`
}

type starRequest struct {
	Starred *bool `json:"starred"`
}

type readRequest struct {
	Read *bool `json:"read"`
}

type deleteResponse struct {
	EmailID string `json:"emailId"`
	Outcome string `json:"outcome"`
}

// listEmails godoc
// @Summary 列出邮件
// @Tags Emails
// @Param folder query string false "inbox, sent, trash, drafts"
// @Param limit query int false "默认 50，最大 100"
// @Success 200 {object} Response{data=emailListResponse}
// @Router /api/v1/emails [get]
func (h *Handler) listEmails(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			BadRequest(c, MsgInvalidLimit)
			return
		}
		limit = n
	}

	records, err := h.mailboxes.List(c.Request.Context(), middleware.UserID(c), domain.Folder(c.Query("folder")), limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, emailListResponse{Emails: records, Count: len(records)})
}

// getEmail godoc
// @Summary 获取邮件详情
// @Tags Emails
// @Success 200 {object} Response{data=domain.EmailView}
// @Failure 403 {object} Response
// @Failure 404 {object} Response
// @Router /api/v1/emails/{id} [get]
func (h *Handler) getEmail(c *gin.Context) {
	view, err := h.mailboxes.Fetch(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, view)
}

// sendEmail godoc
// @Summary 发送邮件
// @Tags Emails
// @Accept json
// @Param request body domain.SendRequest true "邮件内容"
// @Success 200 {object} Response{data=compose.SendResult}
// @Failure 400 {object} Response
// @Failure 502 {object} Response
// @Router /api/v1/emails/send [post]
func (h *Handler) sendEmail(c *gin.Context) {
	var req domain.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	result, err := h.composer.Send(c.Request.Context(), sender(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "邮件已发送", result)
}

// saveDraft godoc
// @Summary 保存草稿
// @Tags Emails
// @Accept json
// @Param request body domain.DraftRequest true "草稿内容"
// @Success 200 {object} Response{data=compose.DraftResult}
// @Router /api/v1/emails/drafts [post]
func (h *Handler) saveDraft(c *gin.Context) {
	var req domain.DraftRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	result, err := h.composer.SaveDraft(c.Request.Context(), sender(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	SuccessWithMsg(c, "草稿已保存", result)
}

// starEmail godoc
// @Summary 设置星标
// @Tags Emails
// @Param request body starRequest false "缺省为 true"
// @Router /api/v1/emails/{id}/star [put]
func (h *Handler) starEmail(c *gin.Context) {
	var req starRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	starred := req.Starred == nil || *req.Starred

	id := c.Param("id")
	if err := h.mailboxes.SetStarred(c.Request.Context(), middleware.UserID(c), id, starred); err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"emailId": id, "starred": starred})
}

// markRead godoc
// @Summary 设置已读
// @Tags Emails
// @Param request body readRequest false "缺省为 true"
// @Router /api/v1/emails/{id}/read [put]
func (h *Handler) markRead(c *gin.Context) {
	var req readRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	read := req.Read == nil || *req.Read

	id := c.Param("id")
	if err := h.mailboxes.SetRead(c.Request.Context(), middleware.UserID(c), id, read); err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, gin.H{"emailId": id, "read": read})
}

// deleteEmail godoc
// @Summary 删除邮件
// @Description 非回收站邮件移入回收站，回收站中的邮件永久删除
// @Tags Emails
// @Success 200 {object} Response{data=deleteResponse}
// @Router /api/v1/emails/{id} [delete]
func (h *Handler) deleteEmail(c *gin.Context) {
	id := c.Param("id")
	outcome, err := h.mailboxes.DeleteOrTrash(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	Success(c, deleteResponse{EmailID: id, Outcome: string(outcome)})
}

func sender(c *gin.Context) domain.Sender {
	return domain.Sender{UserID: middleware.UserID(c), Email: middleware.Email(c)}
}

// bindOptionalJSON 空请求体视为全部缺省
func bindOptionalJSON(c *gin.Context, obj any) error {
	err := c.ShouldBindJSON(obj)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
