package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-hr-clearance/internal/metrics"
)

// streamPublisher is the subset of jetstream.JetStream the publisher needs.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NotificationPublisher publishes clearance events to NATS JetStream.
//
// Subject convention: <prefix>.<event_type>. Every message carries the event
// id as its Nats-Msg-Id so the stream drops redeliveries inside its duplicate
// window.
//
// All publish operations are non-fatal: errors are logged and counted but
// never returned to the caller.
type NotificationPublisher struct {
	js      streamPublisher
	prefix  string
	timeout time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NATSConfig configures ConnectNATS.
type NATSConfig struct {
	URL           string
	Stream        string
	SubjectPrefix string
	ClientName    string
}

// ConnectNATS dials NATS, makes sure the event stream exists and returns a
// publisher plus a function closing the connection.
func ConnectNATS(ctx context.Context, cfg NATSConfig, m *metrics.Metrics, log zerolog.Logger) (*NotificationPublisher, func(), error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats: reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}

	p := NewNotificationPublisher(js, cfg.SubjectPrefix, m, log)
	closeFn := func() {
		if err := nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("nats: drain failed")
		}
	}
	return p, closeFn, nil
}

// NewNotificationPublisher creates a publisher over an existing JetStream
// context.
func NewNotificationPublisher(js streamPublisher, prefix string, m *metrics.Metrics, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{
		js:      js,
		prefix:  prefix,
		timeout: 5 * time.Second,
		metrics: m,
		log:     log,
	}
}

// Publish sends events in order.
func (p *NotificationPublisher) Publish(ctx context.Context, events ...Event) {
	if p.js == nil {
		return
	}
	for _, ev := range events {
		p.publish(ctx, ev)
	}
}

func (p *NotificationPublisher) publish(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.metrics.EventPublished(string(ev.Type), err)
		p.log.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("notification: failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	subject := fmt.Sprintf("%s.%s", p.prefix, ev.Type)
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(ev.ID))
	p.metrics.EventPublished(string(ev.Type), err)
	if err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("request_id", ev.RequestID).
			Str("event_id", ev.ID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", ev.RequestID).
		Str("event_id", ev.ID).
		Msg("notification: event published")
}
