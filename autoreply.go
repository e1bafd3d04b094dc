package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

const aiCompletionTimeout = 60 * time.Second

// AutoReplyCascade decides, for each inbound message, whether to fire a
// keyword rule or fall back to an AI reply. Keyword replies win and are not
// quota-counted; AI replies are billed as auto_reply sends. The asymmetry
// is intentional and covered by tests.
type AutoReplyCascade struct {
	db            *gorm.DB
	dispatcher    *Dispatcher
	conversations *ConversationStore
	provider      AIProvider
	settings      *SettingsCache
	clock         Clock
}

func NewAutoReplyCascade(db *gorm.DB, dispatcher *Dispatcher, conversations *ConversationStore, provider AIProvider, settings *SettingsCache, clock Clock) *AutoReplyCascade {
	return &AutoReplyCascade{
		db:            db,
		dispatcher:    dispatcher,
		conversations: conversations,
		provider:      provider,
		settings:      settings,
		clock:         clock,
	}
}

// HandleInbound runs the cascade once for an inbound message. Self-authored
// and empty messages are ignored.
func (c *AutoReplyCascade) HandleInbound(ctx context.Context, msg InboundMessage) {
	if msg.FromMe || strings.TrimSpace(msg.Body) == "" {
		return
	}
	if c.tryKeywordReply(ctx, msg) {
		return
	}
	c.tryAIReply(ctx, msg)
}

// tryKeywordReply evaluates the device's active rules in creation order and
// fires the first match. A match ends the cascade even when the send itself
// fails.
func (c *AutoReplyCascade) tryKeywordReply(ctx context.Context, msg InboundMessage) bool {
	var rules []AutoReplyRule
	err := c.db.
		Where("device_id = ? AND is_active = ?", msg.DeviceID, true).
		Order("id asc").
		Find(&rules).Error
	if err != nil {
		ErrorLogger.Printf("Error loading auto-reply rules for device %s: %v", msg.DeviceID, err)
		return false
	}

	body := strings.ToLower(msg.Body)
	for _, rule := range rules {
		if !rule.Matches(body) {
			continue
		}
		_, err := c.dispatcher.Send(ctx, msg.DeviceID, msg.ChatID, rule.ReplyMessage, DispatchOptions{
			SkipRateLimit:    true,
			SkipPacing:       true,
			SkipPlaceholders: true,
		})
		if err != nil {
			ErrorLogger.Printf("Error sending keyword reply on device %s: %v", msg.DeviceID, err)
		}
		return true
	}
	return false
}

// Matches reports whether the rule's trigger fires for the lower-cased
// message body.
func (r AutoReplyRule) Matches(lowerBody string) bool {
	trigger := strings.ToLower(r.TriggerKeyword)
	switch r.MatchType {
	case MatchExact:
		return lowerBody == trigger
	case MatchContains:
		return strings.Contains(lowerBody, trigger)
	case MatchStartsWith:
		return strings.HasPrefix(lowerBody, trigger)
	case MatchEndsWith:
		return strings.HasSuffix(lowerBody, trigger)
	}
	return false
}

func (c *AutoReplyCascade) tryAIReply(ctx context.Context, msg InboundMessage) {
	var aiSettings AISettings
	err := c.db.Where("device_id = ?", msg.DeviceID).First(&aiSettings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return
	}
	if err != nil {
		ErrorLogger.Printf("Error loading AI settings for device %s: %v", msg.DeviceID, err)
		return
	}

	if !aiSettings.IsEnabled || aiSettings.APIKey == "" {
		return
	}
	if msg.IsGroup && aiSettings.IgnoreGroups {
		return
	}
	if contactExcluded(aiSettings.ExcludedContacts, msg.SenderID) {
		return
	}
	if aiSettings.OnlyWhenContains != "" && !containsAnyKeyword(msg.Body, aiSettings.OnlyWhenContains) {
		return
	}

	history, err := c.conversations.Recent(msg.DeviceID, msg.ChatID, aiContextTurns)
	if err != nil {
		ErrorLogger.Printf("Error loading conversation history for device %s chat %s: %v", msg.DeviceID, msg.ChatID, err)
		history = nil
	}

	completionCtx, cancel := context.WithTimeout(ctx, aiCompletionTimeout)
	reply, err := c.provider.Complete(completionCtx, aiSettings, history, msg.Body)
	cancel()
	if err != nil {
		ErrorLogger.Printf("AI completion failed for device %s chat %s: %v", msg.DeviceID, msg.ChatID, err)
		c.sendFallback(ctx, msg, aiSettings)
		return
	}

	if err := c.conversations.Append(msg.DeviceID, msg.ChatID, RoleUser, msg.Body); err != nil {
		ErrorLogger.Printf("Error storing user turn for device %s chat %s: %v", msg.DeviceID, msg.ChatID, err)
	}
	if err := c.conversations.Append(msg.DeviceID, msg.ChatID, RoleAssistant, reply); err != nil {
		ErrorLogger.Printf("Error storing assistant turn for device %s chat %s: %v", msg.DeviceID, msg.ChatID, err)
	}

	if delay := c.replyDelay(msg.DeviceID, aiSettings); delay > 0 {
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return
		}
	}

	_, err = c.dispatcher.Send(ctx, msg.DeviceID, msg.ChatID, reply, DispatchOptions{
		SkipPacing:  true,
		MessageType: KindAutoReply,
	})
	if err != nil {
		ErrorLogger.Printf("Error sending AI reply on device %s: %v", msg.DeviceID, err)
	}
}

// replyDelay picks the pacing delay before an AI reply: the device's own
// setting wins, the owner's auto-reply delay is the fallback.
func (c *AutoReplyCascade) replyDelay(deviceID string, aiSettings AISettings) time.Duration {
	if aiSettings.ReplyDelaySeconds > 0 {
		return time.Duration(aiSettings.ReplyDelaySeconds) * time.Second
	}
	userID, err := c.dispatcher.ownerOf(deviceID)
	if err != nil {
		return 0
	}
	return time.Duration(c.settings.Get(userID).AutoReplyDelaySeconds) * time.Second
}

// sendFallback delivers the configured fallback message after a provider
// failure. Best-effort; secondary failures are only logged.
func (c *AutoReplyCascade) sendFallback(ctx context.Context, msg InboundMessage, aiSettings AISettings) {
	if aiSettings.FallbackMessage == "" {
		return
	}
	_, err := c.dispatcher.Send(ctx, msg.DeviceID, msg.ChatID, aiSettings.FallbackMessage, DispatchOptions{
		SkipRateLimit: true,
		SkipPacing:    true,
	})
	if err != nil {
		ErrorLogger.Printf("Error sending fallback message on device %s: %v", msg.DeviceID, err)
	}
}

// contactExcluded checks the sender against a comma-separated exclusion
// list. Entries may be full chat IDs or bare numbers.
func contactExcluded(excluded, senderID string) bool {
	if excluded == "" {
		return false
	}
	senderDigits := digitsOf(senderID)
	for _, entry := range strings.Split(excluded, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.EqualFold(entry, senderID) || (senderDigits != "" && digitsOf(entry) == senderDigits) {
			return true
		}
	}
	return false
}

// containsAnyKeyword reports whether any comma-separated keyword appears in
// the body, case-insensitive.
func containsAnyKeyword(body, keywords string) bool {
	lowerBody := strings.ToLower(body)
	for _, keyword := range strings.Split(keywords, ",") {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(lowerBody, keyword) {
			return true
		}
	}
	return false
}
