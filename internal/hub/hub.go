// Package hub fans published values out to any number of subscribers. A
// single Run goroutine owns the client set; slow clients miss values rather
// than stalling the publisher.
package hub

import (
	"context"
	"sync/atomic"
)

const (
	defaultBroadcastBuffer = 256
	defaultClientBuffer    = 100
)

type Hub[T any] struct {
	broadcast  chan T
	register   chan chan T
	unregister chan chan T
	clients    map[chan T]struct{}
	clientBuf  int
	done       chan struct{}

	dropped atomic.Uint64
}

type Option[T any] func(*Hub[T])

func WithBroadcastBuffer[T any](size int) Option[T] {
	return func(h *Hub[T]) {
		if size > 0 {
			h.broadcast = make(chan T, size)
		}
	}
}

func WithClientBuffer[T any](size int) Option[T] {
	return func(h *Hub[T]) {
		if size > 0 {
			h.clientBuf = size
		}
	}
}

func New[T any](opts ...Option[T]) *Hub[T] {
	h := &Hub[T]{
		broadcast:  make(chan T, defaultBroadcastBuffer),
		register:   make(chan chan T),
		unregister: make(chan chan T),
		clients:    make(map[chan T]struct{}),
		clientBuf:  defaultClientBuffer,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run delivers published values until ctx is done, then closes every client
// channel.
func (h *Hub[T]) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for ch := range h.clients {
				close(ch)
			}
			return
		case ch := <-h.register:
			h.clients[ch] = struct{}{}
		case ch := <-h.unregister:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case v := <-h.broadcast:
			for ch := range h.clients {
				select {
				case ch <- v:
				default:
					h.dropped.Add(1)
				}
			}
		}
	}
}

// Subscribe registers a new client. After Run has returned the channel is
// already closed.
func (h *Hub[T]) Subscribe() chan T {
	ch := make(chan T, h.clientBuf)
	select {
	case h.register <- ch:
	case <-h.done:
		close(ch)
	}
	return ch
}

func (h *Hub[T]) Unsubscribe(ch chan T) {
	select {
	case h.unregister <- ch:
	case <-h.done:
	}
}

// Publish queues v for delivery. It never blocks: when the broadcast buffer
// is full the value is dropped and false is returned.
func (h *Hub[T]) Publish(v T) bool {
	select {
	case h.broadcast <- v:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// Dropped counts values lost to a full broadcast buffer or full clients.
func (h *Hub[T]) Dropped() uint64 {
	return h.dropped.Load()
}
