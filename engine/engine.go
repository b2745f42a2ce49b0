// Package engine implements the metric lifecycle orchestrator: it matches
// incoming events against configured rules, resolves the metric fields,
// and maintains the bounded, expiring table of live metric instances.
//
// Per key the lifecycle is a two-state machine: absent -> active on the
// first successful upsert, active -> active on compatible upserts, and
// active -> absent on delete, size eviction, or TTL expiry. Every
// transition out of active unregisters the instance from the registry
// before the removal is complete, inside the same critical section as the
// cache mutation.
package engine

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Oorpe/prometheus-webhook-collector/errors"
	"github.com/Oorpe/prometheus-webhook-collector/metric"
	"github.com/Oorpe/prometheus-webhook-collector/pkg/cache"
	"github.com/Oorpe/prometheus-webhook-collector/rule"
)

// CachedMetric is one live entry of the metric table.
type CachedMetric struct {
	Key        string            `json:"key"`
	Kind       string            `json:"kind"`
	Help       string            `json:"help"`
	LabelNames []string          `json:"label_names"`
	Value      float64           `json:"value"`
	Labels     map[string]string `json:"labels"`
	InsertedAt time.Time         `json:"inserted_at"`
	UpdatedAt  time.Time         `json:"updated_at"`

	// Instance is exclusively owned by this entry, shared only with the
	// registry it is registered into.
	Instance *metric.Instance `json:"-"`
}

// EventType describes a metric lifecycle transition.
type EventType string

// Lifecycle event types.
const (
	EventUpserted EventType = "upserted"
	EventDeleted  EventType = "deleted"
	EventEvicted  EventType = "evicted"
	EventExpired  EventType = "expired"
)

// Event is emitted to listeners on every lifecycle transition.
type Event struct {
	Type   EventType         `json:"type"`
	Key    string            `json:"key"`
	Kind   string            `json:"kind,omitempty"`
	Value  float64           `json:"value,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
	Time   time.Time         `json:"time"`
}

// Listener receives lifecycle events. Listeners run on the engine's
// dispatch goroutine and must not block for long.
type Listener func(Event)

// Option configures the engine.
type Option func(*Engine)

// WithListener subscribes a listener to lifecycle events.
func WithListener(fn Listener) Option {
	return func(e *Engine) {
		if fn != nil {
			e.listeners = append(e.listeners, fn)
		}
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the engine's time source. Intended for tests; the
// cache inherits the same clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine is the metric lifecycle orchestrator.
type Engine struct {
	rules    *rule.Set
	registry *metric.Registry
	table    *cache.Cache[*CachedMetric]

	logger *slog.Logger
	now    func() time.Time

	listenerMu sync.RWMutex
	listeners  []Listener

	events    chan Event
	done      chan struct{}
	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// New creates an engine with the given rule set, registry, and cache
// bounds.
func New(rules *rule.Set, registry *metric.Registry, maxSize int, ttl time.Duration, opts ...Option) (*Engine, error) {
	e := &Engine{
		rules:    rules,
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	table, err := cache.New[*CachedMetric](maxSize, ttl,
		cache.WithEvictionCallback[*CachedMetric](e.onRemove),
		cache.WithClock[*CachedMetric](e.now),
	)
	if err != nil {
		return nil, errors.Wrap(err, "Engine", "New", "create metric table")
	}
	e.table = table

	go e.dispatch()
	return e, nil
}

// onRemove runs inside the cache lock for every entry removal, so
// unregistration and cache removal are indivisible with respect to all
// other cache operations.
func (e *Engine) onRemove(key string, cm *CachedMetric, reason cache.EvictReason) {
	e.registry.Unregister(key)

	eventType := EventDeleted
	switch reason {
	case cache.ReasonCapacity:
		eventType = EventEvicted
	case cache.ReasonExpired:
		eventType = EventExpired
	}
	e.emit(Event{
		Type:   eventType,
		Key:    key,
		Kind:   cm.Kind,
		Value:  cm.Value,
		Labels: cm.Labels,
		Time:   e.now(),
	})
}

// ProcessEvent derives a metric from the event document and upserts it
// into the table. It returns the updated entry or a typed error: rule
// not found, schema violation, unparseable value, unsupported kind,
// negative counter delta, or kind/label-set conflict.
func (e *Engine) ProcessEvent(eventName string, doc interface{}) (*CachedMetric, error) {
	matched, err := e.rules.Match(eventName)
	if err != nil {
		return nil, err
	}

	if err := matched.ValidateDocument(doc); err != nil {
		return nil, err
	}

	fields, err := matched.Resolve(doc)
	if err != nil {
		return nil, err
	}

	labelNames := make([]string, 0, len(fields.Labels))
	for name := range fields.Labels {
		labelNames = append(labelNames, name)
	}
	sort.Strings(labelNames)

	cm, _, err := e.table.Update(eventName, func(old *CachedMetric, exists bool) (*CachedMetric, error) {
		var existing *metric.Instance
		if exists {
			existing = old.Instance
		}

		inst, err := metric.CreateOrReuse(fields.Kind, eventName, fields.Help, labelNames, existing)
		if err != nil {
			return nil, err
		}

		if err := inst.Apply(fields.Value, fields.Labels); err != nil {
			return nil, err
		}

		if exists {
			old.Help = fields.Help
			old.Value = fields.Value
			old.Labels = fields.Labels
			old.UpdatedAt = e.now()
			return old, nil
		}

		if err := e.registry.Register(eventName, inst.Collector()); err != nil {
			return nil, err
		}
		now := e.now()
		return &CachedMetric{
			Key:        eventName,
			Kind:       fields.Kind.String(),
			Help:       fields.Help,
			LabelNames: labelNames,
			Value:      fields.Value,
			Labels:     fields.Labels,
			InsertedAt: now,
			UpdatedAt:  now,
			Instance:   inst,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	e.emit(Event{
		Type:   EventUpserted,
		Key:    eventName,
		Kind:   cm.Kind,
		Value:  cm.Value,
		Labels: cm.Labels,
		Time:   e.now(),
	})
	e.logger.Debug("metric upserted",
		"key", eventName, "kind", cm.Kind, "value", cm.Value)
	return cm, nil
}

// Delete removes the metric for the given event name. It returns whether
// the key existed; deleting an absent key has no side effect.
func (e *Engine) Delete(eventName string) (bool, error) {
	existed, err := e.table.Delete(eventName)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, errors.WrapInvalid(errors.ErrKeyNotFound, "Engine", "Delete",
			"metric "+eventName)
	}
	e.logger.Debug("metric deleted", "key", eventName)
	return true, nil
}

// Contains reports whether an unexpired entry exists for the key.
func (e *Engine) Contains(key string) bool {
	return e.table.Contains(key)
}

// Size returns the number of unexpired entries.
func (e *Engine) Size() int {
	return e.table.Size()
}

// Snapshot returns all unexpired entries, most recently used first,
// without refreshing their TTLs.
func (e *Engine) Snapshot() []*CachedMetric {
	return e.table.Values()
}

// Registry returns the metric registry for exposition rendering.
func (e *Engine) Registry() *metric.Registry {
	return e.registry
}

// Patterns returns the configured event patterns in declaration order.
func (e *Engine) Patterns() []string {
	return e.rules.Patterns()
}

// Stats returns the metric table's cache statistics.
func (e *Engine) Stats() *cache.Statistics {
	return e.table.Stats()
}

// Close stops the event dispatcher. Pending events are delivered first.
// The engine stays usable after Close; further lifecycle events are
// simply dropped, so a request racing shutdown cannot crash the process.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.closeMu.Lock()
		e.closed = true
		e.closeMu.Unlock()
		close(e.events)
		<-e.done
	})
}

// AddListener subscribes a listener after construction.
func (e *Engine) AddListener(fn Listener) {
	if fn == nil {
		return
	}
	e.listenerMu.Lock()
	e.listeners = append(e.listeners, fn)
	e.listenerMu.Unlock()
}

// emit queues an event for listener dispatch without blocking the caller.
// Events are dropped when the dispatch queue is saturated or the engine
// has been closed. The read lock holds Close open until in-flight sends
// finish, so the channel is never closed under a sender.
func (e *Engine) emit(event Event) {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.events <- event:
	default:
		e.logger.Warn("event queue full, dropping lifecycle event",
			"type", event.Type, "key", event.Key)
	}
}

// dispatch delivers queued events to listeners in order.
func (e *Engine) dispatch() {
	defer close(e.done)
	for event := range e.events {
		e.listenerMu.RLock()
		listeners := e.listeners
		e.listenerMu.RUnlock()
		for _, fn := range listeners {
			fn(event)
		}
	}
}
