package domain

// Sender 已认证的发件人身份
type Sender struct {
	UserID string
	Email  string
}

// AttachmentUpload 发送请求中的附件，Data 为 base64 编码
type AttachmentUpload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType,omitempty"`
	Data        string `json:"data"`
}

// SendRequest 发送请求
//
// Subject 为指针：nil 表示请求中没有该字段，空字符串是合法主题。
type SendRequest struct {
	To          AddressList        `json:"to"`
	Subject     *string            `json:"subject"`
	Body        string             `json:"body"`
	Cc          AddressList        `json:"cc"`
	Bcc         AddressList        `json:"bcc"`
	Attachments []AttachmentUpload `json:"attachments"`
}

// DraftRequest 保存草稿请求，所有字段均可为空
type DraftRequest struct {
	DraftID     string             `json:"draftId"`
	To          AddressList        `json:"to"`
	Subject     string             `json:"subject"`
	Body        string             `json:"body"`
	Cc          AddressList        `json:"cc"`
	Bcc         AddressList        `json:"bcc"`
	Attachments []AttachmentUpload `json:"attachments"`
}
