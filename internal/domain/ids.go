package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewEmailID 生成 "{userId}-{unixMillis}-{suffix}" 形式的邮件 ID
//
// 同一用户的 ID 按毫秒时间戳排序；随机后缀区分同一毫秒内的多个副本。
func NewEmailID(userID string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%013d-%s", userID, at.UnixMilli(), suffix)
}

// NewDraftID 生成草稿 ID
func NewDraftID(userID string, at time.Time) string {
	return fmt.Sprintf("%s-draft-%013d", userID, at.UnixMilli())
}

// ContentPath 邮件内容文档路径
func ContentPath(userID, emailID string) string {
	return fmt.Sprintf("emails/%s/%s.json", userID, emailID)
}

// DraftPath 草稿内容文档路径
func DraftPath(userID, draftID string) string {
	return fmt.Sprintf("drafts/%s/%s.json", userID, draftID)
}
