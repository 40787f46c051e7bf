package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultNATSSubject is the subject used when none is configured.
const DefaultNATSSubject = "audit.entries"

// JetStreamPublisher is the subset of nats.JetStreamContext used by NATSSink.
type JetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSSink publishes entries to a JetStream subject and waits for the
// server acknowledgement. The entry id is sent as the message id so
// JetStream de-duplicates a republished entry.
type NATSSink struct {
	js      JetStreamPublisher
	subject string
}

// NewNATSSink creates a sink publishing to subject through js.
func NewNATSSink(js JetStreamPublisher, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSSink{js: js, subject: subject}
}

// Write implements Sink.
func (s *NATSSink) Write(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := s.js.Publish(s.subject, data, nats.MsgId(e.ID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", s.subject, err)
	}
	return nil
}
