package main

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	// Suffix appended to bare phone numbers for one-to-one chats.
	defaultRecipientSuffix = "@s.whatsapp.net"

	transportTimeout = 30 * time.Second
)

var placeholderPattern = regexp.MustCompile(`(?i)\{(name|phone|pushname)\}`)

// DispatchOptions tune a single send.
type DispatchOptions struct {
	// SkipRateLimit bypasses the quota reservation. Used by BroadcastRunner,
	// which validates the whole batch up front, and by un-metered replies.
	SkipRateLimit bool
	// SkipPacing bypasses the per-device message delay for callers that pace
	// themselves (broadcasts, auto-replies).
	SkipPacing bool
	// SkipPlaceholders sends the body verbatim without {name}/{phone}/
	// {pushname} substitution. Keyword replies use it: rule text is not a
	// template.
	SkipPlaceholders bool
	// MessageType selects the usage counter; empty means KindMessage.
	MessageType UsageKind
	// MediaRef optionally attaches media to the send.
	MediaRef string
}

type devicePacer struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// Dispatcher is the single-message send path: connectivity check, quota
// reservation, recipient normalization, placeholder substitution, transport
// call.
type Dispatcher struct {
	db        *gorm.DB
	transport Transport
	ledger    *UsageLedger
	settings  *SettingsCache

	pacersMu sync.Mutex
	pacers   map[string]*devicePacer
}

func NewDispatcher(db *gorm.DB, transport Transport, ledger *UsageLedger, settings *SettingsCache) *Dispatcher {
	return &Dispatcher{
		db:        db,
		transport: transport,
		ledger:    ledger,
		settings:  settings,
		pacers:    make(map[string]*devicePacer),
	}
}

// Send delivers one message through the transport. It fails with
// ErrDeviceNotConnected before any quota is consumed, with a
// *QuotaExceededError when the reservation is denied, and with a
// *TransportError when the transport rejects the send. There is no local
// retry.
func (d *Dispatcher) Send(ctx context.Context, deviceID, recipient, body string, opts DispatchOptions) (*SendReceipt, error) {
	if !d.transport.IsConnected(deviceID) {
		return nil, ErrDeviceNotConnected
	}

	userID, ownerErr := d.ownerOf(deviceID)
	if ownerErr != nil {
		// Without an owner there is no quota row to charge; treated like any
		// other storage hiccup on the check path, fail-open.
		ErrorLogger.Printf("Error resolving owner of device %s: %v", deviceID, ownerErr)
	}

	if !opts.SkipRateLimit && ownerErr == nil {
		kind := opts.MessageType
		if kind == "" {
			kind = KindMessage
		}
		if _, err := d.ledger.CheckAndReserve(userID, deviceID, kind); err != nil {
			return nil, err
		}
	}

	if !opts.SkipPacing && ownerErr == nil {
		delay := time.Duration(d.settings.Get(userID).MessageDelaySeconds) * time.Second
		if err := d.pace(ctx, deviceID, delay); err != nil {
			return nil, err
		}
	}

	to := normalizeRecipient(recipient)
	rendered := body
	if !opts.SkipPlaceholders {
		rendered = d.renderPlaceholders(ctx, deviceID, to, body)
	}

	sendCtx, cancel := context.WithTimeout(ctx, transportTimeout)
	defer cancel()

	var sendOpts *SendOptions
	if opts.MediaRef != "" {
		sendOpts = &SendOptions{MediaRef: opts.MediaRef}
	}

	receipt, err := d.transport.SendMessage(sendCtx, deviceID, to, rendered, sendOpts)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}
	return receipt, nil
}

// pace enforces the per-device inter-message delay with a burst-1 limiter:
// the first send goes out immediately, each following one waits out the
// configured gap.
func (d *Dispatcher) pace(ctx context.Context, deviceID string, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	d.pacersMu.Lock()
	pacer, ok := d.pacers[deviceID]
	if !ok || pacer.delay != delay {
		pacer = &devicePacer{
			limiter: rate.NewLimiter(rate.Every(delay), 1),
			delay:   delay,
		}
		d.pacers[deviceID] = pacer
	}
	d.pacersMu.Unlock()

	return pacer.limiter.Wait(ctx)
}

func (d *Dispatcher) ownerOf(deviceID string) (uint, error) {
	var device Device
	if err := d.db.Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		return 0, err
	}
	return device.UserID, nil
}

// normalizeRecipient leaves addressed recipients alone and turns bare phone
// numbers into one-to-one chat IDs.
func normalizeRecipient(recipient string) string {
	if strings.Contains(recipient, "@") {
		return recipient
	}
	return digitsOf(recipient) + defaultRecipientSuffix
}

func digitsOf(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// renderPlaceholders substitutes {name}, {phone} and {pushname}
// (case-insensitive) with the recipient's contact data. The lookup is
// best-effort; on failure the bare digits stand in everywhere.
func (d *Dispatcher) renderPlaceholders(ctx context.Context, deviceID, recipient, body string) string {
	if !placeholderPattern.MatchString(body) {
		return body
	}

	digits := digitsOf(recipient)
	name, pushName := digits, digits

	lookupCtx, cancel := context.WithTimeout(ctx, transportTimeout)
	defer cancel()

	info, err := d.transport.ContactInfo(lookupCtx, deviceID, recipient)
	if err != nil {
		InfoLogger.Printf("Contact lookup failed for %s on device %s, using number: %v", recipient, deviceID, err)
	} else if info != nil {
		if info.Name != "" {
			name = info.Name
		} else if info.PushName != "" {
			name = info.PushName
		}
		if info.PushName != "" {
			pushName = info.PushName
		}
		if info.Phone != "" {
			digits = digitsOf(info.Phone)
		}
	}

	return placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		switch strings.ToLower(strings.Trim(match, "{}")) {
		case "name":
			return name
		case "phone":
			return digits
		case "pushname":
			return pushName
		}
		return match
	})
}
