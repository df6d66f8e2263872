package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	published []published
	err       error
	closed    bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{exchange, key, msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPShipper_PublishesToQueue(t *testing.T) {
	ch := &fakeChannel{}
	s := newAMQPShipper(&AMQPConfig{Queue: "audit"}, ch)

	entry := &LogEntry{ID: "log-1", Action: "CREATE_CONFIG", Status: "SUCCESS"}
	if err := s.Ship(context.Background(), entry); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if len(ch.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(ch.published))
	}

	p := ch.published[0]
	if p.exchange != "" || p.key != "audit" {
		t.Errorf("exchange/key = %q/%q, want default exchange and queue name", p.exchange, p.key)
	}
	if p.msg.DeliveryMode != amqp.Persistent || p.msg.MessageId != "log-1" || p.msg.Type != "CREATE_CONFIG" {
		t.Errorf("publishing = %+v", p.msg)
	}

	var decoded LogEntry
	if err := json.Unmarshal(p.msg.Body, &decoded); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if decoded.Action != "CREATE_CONFIG" {
		t.Errorf("decoded action = %q", decoded.Action)
	}
}

func TestAMQPShipper_ExplicitRoutingKey(t *testing.T) {
	ch := &fakeChannel{}
	s := newAMQPShipper(&AMQPConfig{Exchange: "events", RoutingKey: "audit.configvault", Queue: "ignored"}, ch)

	if err := s.Ship(context.Background(), &LogEntry{Action: "LOGIN"}); err != nil {
		t.Fatalf("Ship() error: %v", err)
	}
	if p := ch.published[0]; p.exchange != "events" || p.key != "audit.configvault" {
		t.Errorf("exchange/key = %q/%q", p.exchange, p.key)
	}
}

func TestAMQPShipper_PublishError(t *testing.T) {
	s := newAMQPShipper(&AMQPConfig{Queue: "audit"}, &fakeChannel{err: errors.New("channel closed")})
	if err := s.Ship(context.Background(), &LogEntry{Action: "LOGIN"}); err == nil {
		t.Error("Ship() = nil, want error")
	}
}

func TestAMQPShipper_Close(t *testing.T) {
	ch := &fakeChannel{}
	s := newAMQPShipper(&AMQPConfig{Queue: "audit"}, ch)
	if err := s.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if !ch.closed {
		t.Error("channel not closed")
	}
}

func TestNewAMQPShipper_Validation(t *testing.T) {
	if _, err := NewAMQPShipper(&AMQPConfig{}); err == nil {
		t.Error("expected error without url")
	}
	if _, err := NewAMQPShipper(&AMQPConfig{URL: "amqp://localhost:5672/"}); err == nil {
		t.Error("expected error without exchange or queue")
	}
}
