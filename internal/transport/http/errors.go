package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vmail/backend/internal/domain"
)

// 通用错误消息
const (
	MsgInvalidRequest = "请求参数格式错误"
	MsgInvalidJSON    = "JSON格式错误"
	MsgAuthRequired   = "需要登录认证"
	MsgInvalidFolder  = "未知的文件夹"
	MsgInvalidLimit   = "limit 必须为整数"
	MsgNoObjects      = "事件中没有可处理的对象"

	MsgEmailNotFound    = "邮件不存在"
	MsgPermissionDenied = "无权访问该邮件"
	MsgTransportFailed  = "邮件投递失败"
	MsgPartialIngestion = "部分收件人投递失败"
	MsgStoreUnavailable = "存储暂不可用，请稍后重试"
	MsgInternalError    = "服务器内部错误，请稍后重试"
)

// kindStatus 错误类型到 HTTP 状态码的映射
var kindStatus = map[error]int{
	domain.ErrNotFound:         http.StatusNotFound,
	domain.ErrForbidden:        http.StatusForbidden,
	domain.ErrInvalidRequest:   http.StatusBadRequest,
	domain.ErrTransport:        http.StatusBadGateway,
	domain.ErrPartialIngestion: http.StatusInternalServerError,
	domain.ErrStoreUnavailable: http.StatusServiceUnavailable,
}

var kindMessage = map[error]string{
	domain.ErrNotFound:         MsgEmailNotFound,
	domain.ErrForbidden:        MsgPermissionDenied,
	domain.ErrTransport:        MsgTransportFailed,
	domain.ErrPartialIngestion: MsgPartialIngestion,
	domain.ErrStoreUnavailable: MsgStoreUnavailable,
}

// StatusOf 返回错误对应的 HTTP 状态码
func StatusOf(err error) int {
	if status, ok := kindStatus[domain.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// GetErrorMessage 获取错误的中文消息
//
// InvalidRequest 直接返回底层原因，调用方需要知道哪个字段有问题。
func GetErrorMessage(err error) string {
	kind := domain.KindOf(err)
	if kind == domain.ErrInvalidRequest {
		var opErr *domain.OpError
		if errors.As(err, &opErr) && opErr.Err != nil {
			return opErr.Err.Error()
		}
		return MsgInvalidRequest
	}
	if msg, ok := kindMessage[kind]; ok {
		return msg
	}
	return MsgInternalError
}

// respondError 按错误类型写出错误响应，5xx 会记录日志
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("user_id", c.GetString("userID")),
			zap.Error(err),
		)
	}
	Error(c, status, GetErrorMessage(err))
}
