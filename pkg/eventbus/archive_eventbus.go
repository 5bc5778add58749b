// Package eventbus is the in-process publish/subscribe fabric for archive
// events. Dispatch is synchronous: subscribers run in registration order and
// the first error aborts the publish, which in turn aborts the ingestion
// that raised the event.
package eventbus

import (
	"context"
	"sync"

	"archive_server/core/domain"
)

// NewMessage fires after an email is persisted.
type NewMessage struct {
	List  *domain.List
	Email *domain.Email
}

// NewThread fires after the first email of a thread is persisted, always
// after the corresponding NewMessage.
type NewThread struct {
	List   *domain.List
	Thread *domain.Thread
}

// NewMessageHandler and NewThreadHandler are registered at startup in a
// single explicit list (see bootstrap), keeping the event graph inspectable.
type (
	NewMessageHandler func(ctx context.Context, ev NewMessage) error
	NewThreadHandler  func(ctx context.Context, ev NewThread) error
)

// Bus dispatches archive events. The zero value is usable.
type Bus struct {
	mu         sync.RWMutex
	newMessage []NewMessageHandler
	newThread  []NewThreadHandler
}

func New() *Bus {
	return &Bus{}
}

func (b *Bus) SubscribeNewMessage(h NewMessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newMessage = append(b.newMessage, h)
}

func (b *Bus) SubscribeNewThread(h NewThreadHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newThread = append(b.newThread, h)
}

// PublishNewMessage runs every NewMessage subscriber in registration order.
func (b *Bus) PublishNewMessage(ctx context.Context, ev NewMessage) error {
	b.mu.RLock()
	handlers := b.newMessage
	b.mu.RUnlock()
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// PublishNewThread runs every NewThread subscriber in registration order.
func (b *Bus) PublishNewThread(ctx context.Context, ev NewThread) error {
	b.mu.RLock()
	handlers := b.newThread
	b.mu.RUnlock()
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
