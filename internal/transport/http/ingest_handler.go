package httptransport

import (
	"context"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/ingest"
)

// ObjectIngester 按对象键读取原始邮件并投递
type ObjectIngester interface {
	IngestObject(ctx context.Context, key string) (*ingest.IngestReport, error)
}

// objectEvent 对象存储写入事件，只取需要的字段
type objectEvent struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

type objectResult struct {
	Key        string   `json:"key"`
	MessageID  string   `json:"messageId,omitempty"`
	Stored     int      `json:"stored"`
	Failed     int      `json:"failed"`
	Unresolved []string `json:"unresolved"`
	Error      string   `json:"error,omitempty"`
}

// ingestObjects godoc
// @Summary 处理对象存储写入事件
// @Description 逐个读取事件引用的原始邮件并投递给收件人
// @Tags Internal
// @Accept json
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /internal/ingest [post]
func (h *Handler) ingestObjects(c *gin.Context) {
	var event objectEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}
	if len(event.Records) == 0 {
		BadRequest(c, MsgNoObjects)
		return
	}

	results := make([]objectResult, 0, len(event.Records))
	var firstErr error
	for _, rec := range event.Records {
		// 事件中的对象键经过 URL 编码，空格写作 '+'
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			key = rec.S3.Object.Key
		}
		res := objectResult{Key: key, Unresolved: []string{}}

		report, err := h.ingester.IngestObject(c.Request.Context(), key)
		if report != nil {
			res.MessageID = report.MessageID
			res.Stored = report.Stored()
			res.Failed = report.Failed()
			if report.Unresolved != nil {
				res.Unresolved = report.Unresolved
			}
		}
		if err != nil {
			res.Error = err.Error()
			h.log.Warn("object ingestion failed",
				zap.String("bucket", rec.S3.Bucket.Name),
				zap.String("key", key),
				zap.Error(err),
			)
			// 部分失败已经落盘，不影响其余对象
			if firstErr == nil && domain.KindOf(err) != domain.ErrPartialIngestion {
				firstErr = err
			}
		}
		results = append(results, res)
	}

	if firstErr != nil && len(results) == 1 {
		respondError(c, h.log, firstErr)
		return
	}
	Success(c, gin.H{"objects": results, "count": len(results)})
}
