// Package signal provides typed publish/subscribe channels with explicit disconnect.
package signal

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Signal fans one value out to every connected slot, synchronously and in
// connection order.
type Signal[T any] struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint64
	slots  []slot[T]
}

type slot[T any] struct {
	id uint64
	fn func(T)
}

// New creates a named signal. A nil logger discards recovered slot panics.
func New[T any](name string, logger *slog.Logger) *Signal[T] {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Signal[T]{name: name, logger: logger}
}

// Name returns the signal name given to New.
func (s *Signal[T]) Name() string {
	return s.name
}

// Connect registers fn. The returned function disconnects it and is safe to call more than once.
func (s *Signal[T]) Connect(fn func(T)) (disconnect func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.slots = append(s.slots, slot[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sl := range s.slots {
				if sl.id == id {
					s.slots = append(s.slots[:i:i], s.slots[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit calls every slot connected at the time of the call. A slot that panics is
// logged and skipped; the remaining slots still run.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	slots := append([]slot[T](nil), s.slots...)
	s.mu.Unlock()

	for _, sl := range slots {
		s.call(sl, v)
	}
}

func (s *Signal[T]) call(sl slot[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("signal slot panicked", "signal", s.name, "error", fmt.Sprint(r))
		}
	}()
	sl.fn(v)
}

// DisconnectAll drops every slot.
func (s *Signal[T]) DisconnectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = nil
}

// Len returns the number of connected slots.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
