package domain

import "time"

// NewMailEvent 新邮件通知，每个收件人一条
type NewMailEvent struct {
	UserID    string    `json:"userId"`
	EmailID   string    `json:"emailId"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMailEventFrom 由新建的收件箱记录生成通知
func NewMailEventFrom(r *EmailRecord) NewMailEvent {
	return NewMailEvent{
		UserID:    r.OwnerID,
		EmailID:   r.EmailID,
		From:      r.From,
		Subject:   r.Subject,
		Timestamp: r.Timestamp,
	}
}
