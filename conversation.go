package main

import (
	"gorm.io/gorm"
)

const (
	// Turns kept per (device, chat) after trimming.
	maxConversationTurns = 50
	// Turns handed to the AI provider as context.
	aiContextTurns = 10
)

// ConversationStore keeps the bounded per-chat history feeding AI replies.
// Appends are followed by a trim so a chat never holds more than
// maxConversationTurns rows.
type ConversationStore struct {
	db *gorm.DB
}

func NewConversationStore(db *gorm.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// Append stores one turn and prunes the chat to the most recent
// maxConversationTurns.
func (s *ConversationStore) Append(deviceID, chatID, role, content string) error {
	turn := ConversationTurn{
		DeviceID: deviceID,
		ChatID:   chatID,
		Role:     role,
		Content:  content,
	}
	if err := s.db.Create(&turn).Error; err != nil {
		return err
	}
	return s.trim(deviceID, chatID)
}

func (s *ConversationStore) trim(deviceID, chatID string) error {
	keep := s.db.Model(&ConversationTurn{}).
		Select("id").
		Where("device_id = ? AND chat_id = ?", deviceID, chatID).
		Order("created_at DESC, id DESC").
		Limit(maxConversationTurns)

	return s.db.Unscoped().
		Where("device_id = ? AND chat_id = ? AND id NOT IN (?)", deviceID, chatID, keep).
		Delete(&ConversationTurn{}).Error
}

// Recent returns up to n of the latest turns for the chat, oldest first.
func (s *ConversationStore) Recent(deviceID, chatID string, n int) ([]ConversationTurn, error) {
	var turns []ConversationTurn
	err := s.db.
		Where("device_id = ? AND chat_id = ?", deviceID, chatID).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&turns).Error
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
