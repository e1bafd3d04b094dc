package main

import (
	"time"

	"gorm.io/gorm"
)

// Device is one messaging session belonging to a user, identified by the
// transport's session ID.
type Device struct {
	gorm.Model
	DeviceID string `gorm:"uniqueIndex"`
	UserID   uint   `gorm:"index"`
	Name     string
}

// UsageCounter holds the daily send counters for one (user, device, date).
// The quota itself is enforced per user, aggregated across devices.
type UsageCounter struct {
	gorm.Model
	UserID          uint   `gorm:"uniqueIndex:idx_usage_user_device_date"`
	DeviceID        string `gorm:"uniqueIndex:idx_usage_user_device_date"`
	Date            string `gorm:"uniqueIndex:idx_usage_user_device_date"` // YYYY-MM-DD, UTC
	MessagesSent    int    `json:"messages_sent"`
	BroadcastsSent  int    `json:"broadcasts_sent"`
	AutoRepliesSent int    `json:"auto_replies_sent"`
}

// UserSettings carries the per-user dispatch knobs. One row per user,
// created with defaults on first access.
type UserSettings struct {
	gorm.Model
	UserID                 uint `gorm:"uniqueIndex"`
	DailyMessageLimit      int  `json:"daily_message_limit"`
	MessageDelaySeconds    int  `json:"message_delay_seconds"`
	BroadcastDelaySeconds  int  `json:"broadcast_delay_seconds"`
	AutoReplyDelaySeconds  int  `json:"auto_reply_delay_seconds"`
	MaxBroadcastRecipients int  `json:"max_broadcast_recipients"`
	RateLimitingEnabled    bool `json:"rate_limiting_enabled"`
}

// Scheduled message states. Everything except pending is terminal.
const (
	ScheduleStatusPending   = "pending"
	ScheduleStatusSent      = "sent"
	ScheduleStatusFailed    = "failed"
	ScheduleStatusCancelled = "cancelled"
)

type ScheduledMessage struct {
	gorm.Model
	DeviceID     string `gorm:"index"`
	ToNumber     string `gorm:"index"`
	Body         string `gorm:"type:text"`
	MediaRef     string
	ScheduledAt  time.Time `gorm:"index"`
	Status       string    `gorm:"index;default:pending"`
	SentAt       *time.Time
	ErrorMessage string
}

// Keyword match modes for auto-reply rules.
const (
	MatchExact      = "exact"
	MatchContains   = "contains"
	MatchStartsWith = "starts_with"
	MatchEndsWith   = "ends_with"
)

// AutoReplyRule is one keyword trigger for a device. Rules are evaluated in
// creation order; the first match wins.
type AutoReplyRule struct {
	gorm.Model
	DeviceID       string `gorm:"index"`
	TriggerKeyword string
	MatchType      string
	ReplyMessage   string `gorm:"type:text"`
	IsActive       bool   `gorm:"default:true"`
}

// Roles of a conversation turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one message of the bounded per-chat history that
// grounds AI replies.
type ConversationTurn struct {
	gorm.Model
	DeviceID string `gorm:"index:idx_turn_device_chat"`
	ChatID   string `gorm:"index:idx_turn_device_chat"`
	Role     string
	Content  string `gorm:"type:text"`
}

// AISettings configures the AI fallback for one device.
type AISettings struct {
	gorm.Model
	DeviceID          string `gorm:"uniqueIndex"`
	IsEnabled         bool
	Provider          string
	APIKey            string
	ModelName         string `gorm:"column:model"`
	SystemPrompt      string `gorm:"type:text"`
	MaxTokens         int
	Temperature       float32
	ReplyDelaySeconds int
	IgnoreGroups      bool
	OnlyWhenContains  string
	ExcludedContacts  string
	FallbackMessage   string
}
