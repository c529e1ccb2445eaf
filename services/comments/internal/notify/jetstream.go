package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// JetStreamPublisher publishes events synchronously and waits for the
// stream ack. The event id doubles as the JetStream message id so retried
// publishes are de-duplicated by the server.
type JetStreamPublisher struct {
	js      nats.JetStreamContext
	subject string
}

func NewJetStreamPublisher(js nats.JetStreamContext, subject string) *JetStreamPublisher {
	if subject == "" {
		subject = SubjectCommentCreated
	}
	return &JetStreamPublisher{js: js, subject: subject}
}

func (p *JetStreamPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(p.subject, data, nats.Context(ctx), nats.MsgId(ev.EventID)); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}
