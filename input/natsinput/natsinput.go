// Package natsinput consumes webhook events from NATS subjects as an
// alternative to the HTTP path. Messages published to
// <subject_prefix>.<event_title> carry the JSON event document as their
// payload; the subject remainder becomes the event name.
package natsinput

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/Oorpe/prometheus-webhook-collector/config"
	"github.com/Oorpe/prometheus-webhook-collector/engine"
	"github.com/Oorpe/prometheus-webhook-collector/errors"
)

// Input subscribes to a NATS subject tree and feeds events to the engine.
type Input struct {
	cfg    config.NATSConfig
	engine *engine.Engine
	logger *slog.Logger

	conn    *nats.Conn
	sub     *nats.Subscription
	running atomic.Bool
}

// New creates a NATS input from configuration.
func New(cfg config.NATSConfig, eng *engine.Engine, logger *slog.Logger) *Input {
	if logger == nil {
		logger = slog.Default()
	}
	return &Input{
		cfg:    cfg,
		engine: eng,
		logger: logger,
	}
}

// Start connects and subscribes. The subscription uses a queue group so
// multiple collector replicas share the event stream.
func (in *Input) Start(ctx context.Context) error {
	if in.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Input", "Start",
			"NATS input already running")
	}

	conn, err := nats.Connect(strings.Join(in.cfg.URLs, ","),
		nats.Name("prometheus-webhook-collector"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return errors.WrapTransient(err, "Input", "Start", "connect to NATS")
	}

	subject := in.cfg.SubjectPrefix + ".>"
	sub, err := conn.QueueSubscribe(subject, in.cfg.QueueGroup, in.handleMessage)
	if err != nil {
		conn.Close()
		return errors.WrapTransient(err, "Input", "Start",
			"subscribe to "+subject)
	}

	in.conn = conn
	in.sub = sub
	in.running.Store(true)
	in.logger.Info("NATS input started", "subject", subject, "queue_group", in.cfg.QueueGroup)

	// Disconnect when the caller's context ends.
	go func() {
		<-ctx.Done()
		_ = in.Stop()
	}()
	return nil
}

// Stop drains the subscription and closes the connection.
func (in *Input) Stop() error {
	if !in.running.Swap(false) {
		return nil
	}
	if in.sub != nil {
		_ = in.sub.Drain()
	}
	if in.conn != nil {
		in.conn.Close()
	}
	in.logger.Info("NATS input stopped")
	return nil
}

// handleMessage processes one event message. Failures are logged and the
// message dropped; NATS inputs have no caller to surface an error to.
func (in *Input) handleMessage(msg *nats.Msg) {
	eventName := EventNameFromSubject(in.cfg.SubjectPrefix, msg.Subject)
	if eventName == "" {
		in.logger.Warn("ignoring message with empty event name", "subject", msg.Subject)
		return
	}

	var doc interface{}
	if err := json.Unmarshal(msg.Data, &doc); err != nil {
		in.logger.Warn("ignoring non-JSON event payload",
			"subject", msg.Subject, "error", err)
		return
	}

	if _, err := in.engine.ProcessEvent(eventName, doc); err != nil {
		in.logger.Warn("event processing failed",
			"event", eventName, "subject", msg.Subject, "error", err)
		return
	}
	in.logger.Debug("event processed from NATS", "event", eventName)
}

// EventNameFromSubject maps a subject to an event name: the remainder
// after the prefix, with token separators flattened to underscores so the
// result is a valid metric name.
func EventNameFromSubject(prefix, subject string) string {
	remainder := strings.TrimPrefix(subject, prefix)
	remainder = strings.TrimPrefix(remainder, ".")
	return strings.ReplaceAll(remainder, ".", "_")
}
