package domain

import "time"

// DirectoryEntry 用户目录条目，将收件地址映射到用户 ID
type DirectoryEntry struct {
	Address   string    `json:"address" gorm:"primaryKey;type:varchar(320)"`
	UserID    string    `json:"userId" gorm:"type:varchar(128);not null;index"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定 gorm 表名
func (DirectoryEntry) TableName() string {
	return "directory_entries"
}
