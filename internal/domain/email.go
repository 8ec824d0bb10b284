package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Folder 邮箱文件夹，驱动列表查询与软删除
type Folder string

const (
	FolderInbox  Folder = "inbox"
	FolderSent   Folder = "sent"
	FolderTrash  Folder = "trash"
	FolderDrafts Folder = "drafts"
)

// Valid 判断是否为已知文件夹
func (f Folder) Valid() bool {
	switch f {
	case FolderInbox, FolderSent, FolderTrash, FolderDrafts:
		return true
	}
	return false
}

// PreviewLength 预览字段截取的字符数
const PreviewLength = 100

// EmailRecord 邮件元数据，每个收件人副本一条
//
// 创建后只有 Folder、Read、Starred 三个字段允许修改。
type EmailRecord struct {
	EmailID            string    `json:"emailId" gorm:"primaryKey;type:varchar(128)"`
	OwnerID            string    `json:"userId" gorm:"type:varchar(128);not null;index:idx_owner_folder_ts,priority:1"`
	From               string    `json:"from" gorm:"type:varchar(320)"`
	To                 []string  `json:"to" gorm:"serializer:json;type:text"`
	Cc                 []string  `json:"cc" gorm:"serializer:json;type:text"`
	Bcc                []string  `json:"bcc,omitempty" gorm:"serializer:json;type:text"`
	Subject            string    `json:"subject" gorm:"type:varchar(998)"`
	Preview            string    `json:"preview" gorm:"type:varchar(512)"`
	Timestamp          time.Time `json:"timestamp" gorm:"not null;index:idx_owner_folder_ts,priority:3,sort:desc"`
	Folder             Folder    `json:"folder" gorm:"type:varchar(16);not null;index:idx_owner_folder_ts,priority:2"`
	Read               bool      `json:"read" gorm:"default:false"`
	Starred            bool      `json:"starred" gorm:"default:false"`
	HasAttachments     bool      `json:"hasAttachments" gorm:"default:false"`
	ContentRef         string    `json:"s3Key" gorm:"type:varchar(512);not null"`
	TransportMessageID string    `json:"messageId,omitempty" gorm:"type:varchar(255)"`
	IsDraft            bool      `json:"isDraft,omitempty" gorm:"default:false"`
}

// TableName 指定 gorm 表名
func (EmailRecord) TableName() string {
	return "email_records"
}

// Clone 返回记录的深拷贝
func (r *EmailRecord) Clone() *EmailRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.To = cloneStrings(r.To)
	c.Cc = cloneStrings(r.Cc)
	c.Bcc = cloneStrings(r.Bcc)
	return &c
}

// Attachment 附件清单条目；Data 仅在组装发送或完整读取时存在
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Data        []byte `json:"data,omitempty"`
}

// EmailContent 邮件内容文档，与 EmailRecord 通过 ContentRef 一一对应，创建后不可变
type EmailContent struct {
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	From        string       `json:"from,omitempty"`
	To          []string     `json:"to"`
	Cc          []string     `json:"cc"`
	Bcc         []string     `json:"bcc,omitempty"`
	Attachments []Attachment `json:"attachments"`
	Timestamp   time.Time    `json:"timestamp"`
	MessageID   string       `json:"messageId,omitempty"`
}

// EmailView 元数据与内容合并后的完整邮件
type EmailView struct {
	*EmailRecord
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
}

// FieldUpdate 可变字段更新，nil 表示不修改
type FieldUpdate struct {
	Folder  *Folder
	Read    *bool
	Starred *bool
}

// Empty 判断是否没有任何字段需要更新
func (u FieldUpdate) Empty() bool {
	return u.Folder == nil && u.Read == nil && u.Starred == nil
}

// Apply 将更新应用到记录上
func (u FieldUpdate) Apply(r *EmailRecord) {
	if u.Folder != nil {
		r.Folder = *u.Folder
	}
	if u.Read != nil {
		r.Read = *u.Read
	}
	if u.Starred != nil {
		r.Starred = *u.Starred
	}
}

// MoveTo 构造移动文件夹的更新
func MoveTo(f Folder) FieldUpdate {
	return FieldUpdate{Folder: &f}
}

// SetStarred 构造星标更新
func SetStarred(v bool) FieldUpdate {
	return FieldUpdate{Starred: &v}
}

// SetRead 构造已读更新
func SetRead(v bool) FieldUpdate {
	return FieldUpdate{Read: &v}
}

// AddressList 收件人列表，JSON 中既可以是单个字符串也可以是字符串数组
type AddressList []string

// UnmarshalJSON 支持 "a@x" 与 ["a@x","b@x"] 两种形式
func (l *AddressList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		if strings.TrimSpace(single) == "" {
			*l = nil
			return nil
		}
		*l = AddressList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("address list must be a string or an array of strings: %w", err)
	}
	*l = AddressList(many)
	return nil
}

// Compact 去除空白项并裁剪空格
func (l AddressList) Compact() []string {
	out := make([]string, 0, len(l))
	for _, a := range l {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// MakePreview 截取正文前 PreviewLength 个字符
func MakePreview(body string) string {
	if utf8.RuneCountInString(body) <= PreviewLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:PreviewLength])
}

// SplitAddresses 按逗号拆分地址头，去除空白与空项
func SplitAddresses(header string) []string {
	if strings.TrimSpace(header) == "" {
		return []string{}
	}
	return AddressList(strings.Split(header, ",")).Compact()
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
