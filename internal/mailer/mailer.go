// Package mailer abstracts the outbound email collaborator.
//
// Delivery mechanics (SMTP, provider API) live outside this service; callers
// treat dispatch as best-effort and must never let a failed email fail the
// operation that triggered it.
package mailer

import (
	"context"
	"log/slog"
	"sync"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer dispatches a message to the notification sink.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SlogMailer logs messages instead of delivering them. Used in development
// mode and wherever no real sink is configured.
type SlogMailer struct {
	logger *slog.Logger
}

// NewSlogMailer creates a mailer that writes to the log.
func NewSlogMailer(logger *slog.Logger) *SlogMailer {
	return &SlogMailer{logger: logger}
}

func (m *SlogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email dispatched (log sink)", "to", msg.To, "subject", msg.Subject)
	return nil
}

// MemoryMailer records messages for tests.
type MemoryMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

// NewMemoryMailer creates a recording mailer.
func NewMemoryMailer() *MemoryMailer {
	return &MemoryMailer{}
}

// Fail makes every subsequent Send return err.
func (m *MemoryMailer) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MemoryMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// Sent returns a copy of every recorded message.
func (m *MemoryMailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}
