// transport.go
package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// SendOptions carries optional attachments for an outbound message.
type SendOptions struct {
	MediaRef string
}

// SendReceipt is the transport's acknowledgement of an accepted message.
type SendReceipt struct {
	MessageID string
	Timestamp time.Time
}

// ContactInfo is the transport's view of a contact, used for template
// placeholder substitution.
type ContactInfo struct {
	Name     string
	PushName string
	Phone    string
}

// InboundMessage is one event from the transport's inbound feed.
type InboundMessage struct {
	DeviceID  string
	ChatID    string
	SenderID  string
	Body      string
	IsGroup   bool
	FromMe    bool
	Timestamp time.Time
}

// Transport defines the methods required from the messaging transport.
type Transport interface {
	SendMessage(ctx context.Context, deviceID, recipient, body string, opts *SendOptions) (*SendReceipt, error)
	IsConnected(deviceID string) bool
	ContactInfo(ctx context.Context, deviceID, jid string) (*ContactInfo, error)
}

// loggingTransport is a development stand-in for a real transport: every
// device is connected and sends are written to the info log.
type loggingTransport struct {
	clock Clock
	seq   atomic.Int64
}

// NewLoggingTransport returns a Transport useful for local runs without a
// live messaging session.
func NewLoggingTransport(clock Clock) Transport {
	return &loggingTransport{clock: clock}
}

func (t *loggingTransport) SendMessage(ctx context.Context, deviceID, recipient, body string, opts *SendOptions) (*SendReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seq := t.seq.Add(1)
	InfoLogger.Printf("[%s] -> %s: %s", deviceID, recipient, body)
	return &SendReceipt{
		MessageID: fmt.Sprintf("dev-%d", seq),
		Timestamp: t.clock.Now(),
	}, nil
}

func (t *loggingTransport) IsConnected(deviceID string) bool {
	return true
}

func (t *loggingTransport) ContactInfo(ctx context.Context, deviceID, jid string) (*ContactInfo, error) {
	return nil, fmt.Errorf("contact info not available")
}
