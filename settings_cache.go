package main

import (
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
)

const settingsCacheTTL = 5 * time.Minute

// Built-in defaults applied when a user has no settings row yet.
const (
	defaultDailyMessageLimit      = 200
	defaultMessageDelaySeconds    = 3
	defaultBroadcastDelaySeconds  = 5
	defaultAutoReplyDelaySeconds  = 2
	defaultMaxBroadcastRecipients = 100
)

type cachedSettings struct {
	settings   UserSettings
	insertedAt time.Time
}

// SettingsCache serves per-user settings with a TTL measured from insertion.
// A load failure surfaces the built-in defaults instead of failing the
// caller; failures are never cached.
type SettingsCache struct {
	db      *gorm.DB
	clock   Clock
	mu      sync.RWMutex
	entries map[uint]cachedSettings
}

func NewSettingsCache(db *gorm.DB, clock Clock) *SettingsCache {
	return &SettingsCache{
		db:      db,
		clock:   clock,
		entries: make(map[uint]cachedSettings),
	}
}

func defaultUserSettings(userID uint) UserSettings {
	return UserSettings{
		UserID:                 userID,
		DailyMessageLimit:      defaultDailyMessageLimit,
		MessageDelaySeconds:    defaultMessageDelaySeconds,
		BroadcastDelaySeconds:  defaultBroadcastDelaySeconds,
		AutoReplyDelaySeconds:  defaultAutoReplyDelaySeconds,
		MaxBroadcastRecipients: defaultMaxBroadcastRecipients,
		RateLimitingEnabled:    true,
	}
}

// Get returns the user's settings, loading and caching them on miss or
// expiry. A missing row is created with defaults.
func (c *SettingsCache) Get(userID uint) UserSettings {
	now := c.clock.Now()

	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if ok && now.Sub(entry.insertedAt) < settingsCacheTTL {
		return entry.settings
	}

	settings, err := c.load(userID)
	if err != nil {
		ErrorLogger.Printf("Error loading settings for user %d, serving defaults: %v", userID, err)
		return defaultUserSettings(userID)
	}

	c.mu.Lock()
	c.entries[userID] = cachedSettings{settings: settings, insertedAt: now}
	c.mu.Unlock()

	return settings
}

func (c *SettingsCache) load(userID uint) (UserSettings, error) {
	var settings UserSettings
	err := c.db.Where("user_id = ?", userID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = defaultUserSettings(userID)
		if err := c.db.Create(&settings).Error; err != nil {
			return UserSettings{}, err
		}
		return settings, nil
	}
	if err != nil {
		return UserSettings{}, err
	}
	return settings, nil
}

// Invalidate drops the cached entry so the next Get reloads from the store.
// Called whenever the user or an admin updates settings.
func (c *SettingsCache) Invalidate(userID uint) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}
