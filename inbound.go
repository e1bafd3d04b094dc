package main

import (
	"context"
	"sync"
)

const inboundQueueSize = 64

// InboundRouter feeds transport events into the auto-reply cascade through
// one bounded queue per device. Messages of one device are handled in
// arrival order; devices do not block each other.
type InboundRouter struct {
	cascade *AutoReplyCascade

	mu     sync.Mutex
	ctx    context.Context
	queues map[string]chan InboundMessage
	wg     sync.WaitGroup
	closed bool
}

func NewInboundRouter(cascade *AutoReplyCascade) *InboundRouter {
	return &InboundRouter{
		cascade: cascade,
		queues:  make(map[string]chan InboundMessage),
	}
}

// Start binds the router to a context. Must be called before Dispatch.
func (r *InboundRouter) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
}

// Dispatch enqueues one inbound message for its device's worker. When the
// queue is full the message is dropped with an error log rather than
// blocking the transport's event feed. The enqueue stays under the mutex so
// Stop cannot close the queue between the lookup and the send; the select
// never blocks, so the lock is held only briefly.
func (r *InboundRouter) Dispatch(msg InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.ctx == nil {
		return
	}
	queue, ok := r.queues[msg.DeviceID]
	if !ok {
		queue = make(chan InboundMessage, inboundQueueSize)
		r.queues[msg.DeviceID] = queue
		r.wg.Add(1)
		go r.consume(queue)
	}

	select {
	case queue <- msg:
	default:
		ErrorLogger.Printf("Inbound queue full for device %s, dropping message from %s", msg.DeviceID, msg.SenderID)
	}
}

func (r *InboundRouter) consume(queue chan InboundMessage) {
	defer r.wg.Done()
	for msg := range queue {
		r.cascade.HandleInbound(r.ctx, msg)
	}
}

// Stop closes all queues and waits for in-flight messages to drain.
func (r *InboundRouter) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, queue := range r.queues {
		close(queue)
	}
	r.mu.Unlock()

	r.wg.Wait()
}
