// Package router dispatches typed messages to registered handlers and
// fans broadcast notifications out to topic subscribers. It is the
// only coupling between transports and the components behind them.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/termhive/termhive/internal/message"
	"github.com/termhive/termhive/internal/metrics"
)

// ErrNoHandler is returned by Send when no handler is registered for
// the message type.
var ErrNoHandler = errors.New("no handler registered for message type")

// DefaultDedupHistory bounds the content-hash FIFO.
const DefaultDedupHistory = 1024

// Handler processes one message and optionally returns a response.
type Handler func(ctx context.Context, msg message.Message) (message.Message, error)

// TopicHandler receives broadcast notifications for a subscribed topic.
type TopicHandler func(ctx context.Context, n *message.BroadcastNotification)

// Options tunes router construction.
type Options struct {
	// DedupHistory is the size of the content-hash FIFO. Zero means
	// DefaultDedupHistory; negative disables deduplication.
	DedupHistory int
}

// Router holds the type-keyed handler table and the topic subscription
// table. All methods are safe for concurrent use.
type Router struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	topics   map[string][]TopicHandler

	dedupEnabled bool
	dedupMax     int
	dedupOrder   []string
	dedupSeen    map[string]struct{}
}

// New builds an empty router.
func New(opts Options) *Router {
	size := opts.DedupHistory
	if size == 0 {
		size = DefaultDedupHistory
	}
	return &Router{
		handlers:     make(map[string][]Handler),
		topics:       make(map[string][]TopicHandler),
		dedupEnabled: size > 0,
		dedupMax:     size,
		dedupSeen:    make(map[string]struct{}),
	}
}

// Register appends a handler for the given message type. Handlers run
// in registration order.
func (r *Router) Register(msgType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = append(r.handlers[msgType], h)
}

// OnTopic subscribes a handler to broadcast notifications on topic.
func (r *Router) OnTopic(topic string, h TopicHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics[topic] = append(r.topics[topic], h)
}

// Send dispatches msg to the first handler registered for its type.
// A duplicate of a recently sent message returns (nil, nil) without
// invoking any handler. Handler failures come back as an ErrorMessage
// response, never as an error from Send itself.
func (r *Router) Send(ctx context.Context, msg message.Message) (message.Message, error) {
	hash, dup := r.checkDup(msg)
	if dup {
		metrics.MessagesDeduped.Inc()
		slog.Debug("dropping duplicate message", "type", msg.Type(), "message_id", msg.Env().MessageID)
		return nil, nil
	}

	r.mu.Lock()
	chain := r.handlers[msg.Type()]
	r.mu.Unlock()
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, msg.Type())
	}

	resp := r.invoke(ctx, chain[0], msg)
	r.recordHash(hash)
	metrics.MessagesRouted.WithLabelValues(msg.Type()).Inc()
	return resp, nil
}

// SendMulti dispatches msg to every handler for its type, in
// registration order, and aggregates the non-nil responses.
// Deduplication applies to the whole call, not per handler.
func (r *Router) SendMulti(ctx context.Context, msg message.Message) ([]message.Message, error) {
	hash, dup := r.checkDup(msg)
	if dup {
		metrics.MessagesDeduped.Inc()
		slog.Debug("dropping duplicate message", "type", msg.Type(), "message_id", msg.Env().MessageID)
		return nil, nil
	}

	r.mu.Lock()
	chain := append([]Handler(nil), r.handlers[msg.Type()]...)
	r.mu.Unlock()
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, msg.Type())
	}

	var responses []message.Message
	for _, h := range chain {
		if resp := r.invoke(ctx, h, msg); resp != nil {
			responses = append(responses, resp)
		}
	}
	r.recordHash(hash)
	metrics.MessagesRouted.WithLabelValues(msg.Type()).Inc()
	return responses, nil
}

// Publish fabricates a BroadcastNotification and delivers it to every
// subscriber of topic, returning how many were invoked. Subscriber
// panics and errors are logged, never propagated.
func (r *Router) Publish(ctx context.Context, topic string, payload map[string]any, sender string) int {
	n := &message.BroadcastNotification{
		Envelope: message.NewEnvelope(sender),
		Topic:    topic,
		Payload:  payload,
	}
	return r.Broadcast(ctx, n)
}

// Broadcast delivers a pre-built notification to its topic subscribers.
func (r *Router) Broadcast(ctx context.Context, n *message.BroadcastNotification) int {
	r.mu.Lock()
	subs := append([]TopicHandler(nil), r.topics[n.Topic]...)
	r.mu.Unlock()

	for _, h := range subs {
		r.deliver(ctx, n, h)
	}
	return len(subs)
}

func (r *Router) deliver(ctx context.Context, n *message.BroadcastNotification, h TopicHandler) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("topic subscriber panicked", "topic", n.Topic, "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	h(ctx, n)
}

// invoke runs one handler, converting its failure into an ErrorMessage
// response and stamping correlation on whatever comes back.
func (r *Router) invoke(ctx context.Context, h Handler, msg message.Message) message.Message {
	resp, err := r.safeCall(ctx, h, msg)
	if err != nil {
		metrics.HandlerErrors.WithLabelValues(msg.Type()).Inc()
		slog.Warn("handler failed", "type", msg.Type(), "message_id", msg.Env().MessageID, "error", err)
		em := &message.ErrorMessage{
			Envelope:          message.NewEnvelope("router"),
			Code:              "HANDLER_ERROR",
			ErrorText:         err.Error(),
			OriginalMessageID: msg.Env().MessageID,
			Recoverable:       true,
		}
		em.Env().CorrelationID = msg.Env().MessageID
		return em
	}
	if resp != nil {
		resp.Env().CorrelationID = msg.Env().MessageID
	}
	return resp
}

func (r *Router) safeCall(ctx context.Context, h Handler, msg message.Message) (resp message.Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("handler panicked", "type", msg.Type(), "panic", rec, "stack", string(debug.Stack()))
			resp, err = nil, fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, msg)
}

// checkDup returns the content hash and whether it was already seen.
func (r *Router) checkDup(msg message.Message) (string, bool) {
	if !r.dedupEnabled {
		return "", false
	}
	hash, err := message.ContentHash(msg)
	if err != nil {
		slog.Warn("content hash failed, skipping dedup", "type", msg.Type(), "error", err)
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, seen := r.dedupSeen[hash]
	return hash, seen
}

// recordHash appends the hash to the FIFO, evicting the oldest entry
// once the bound is reached.
func (r *Router) recordHash(hash string) {
	if !r.dedupEnabled || hash == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, seen := r.dedupSeen[hash]; seen {
		return
	}
	r.dedupOrder = append(r.dedupOrder, hash)
	r.dedupSeen[hash] = struct{}{}
	for len(r.dedupOrder) > r.dedupMax {
		oldest := r.dedupOrder[0]
		r.dedupOrder = r.dedupOrder[1:]
		delete(r.dedupSeen, oldest)
	}
}
