package metric

import (
	"fmt"
	"math"
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Oorpe/prometheus-webhook-collector/errors"
)

// Instance is a typed metric instance owned by a single cache entry. The
// kind is fixed at creation; updates dispatch on it.
type Instance struct {
	kind       Kind
	name       string
	labelNames []string // sorted
	gauge      *prometheus.GaugeVec
	counter    *prometheus.CounterVec
}

// New creates a metric instance of the given kind. Info instances follow
// the usual exposition convention of a gauge named <name>_info pinned
// to 1, carrying its payload entirely in labels.
func New(kind Kind, name, help string, labelNames []string) (*Instance, error) {
	names := make([]string, len(labelNames))
	copy(names, labelNames)
	sort.Strings(names)

	inst := &Instance{
		kind:       kind,
		name:       name,
		labelNames: names,
	}

	switch kind {
	case KindGauge:
		inst.gauge = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: name, Help: help},
			names,
		)
	case KindCounter:
		inst.counter = prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: name, Help: help},
			names,
		)
	case KindInfo:
		inst.gauge = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: name + "_info", Help: help},
			names,
		)
	default:
		return nil, errors.WrapInvalid(errors.ErrUnsupportedKind, "metric", "New",
			fmt.Sprintf("kind %q", kind))
	}

	return inst, nil
}

// CreateOrReuse returns existing when it matches the requested kind and
// label-name set, and a fresh instance when existing is nil. A kind or
// label-set change is rejected: the caller must delete and recreate.
func CreateOrReuse(kind Kind, name, help string, labelNames []string, existing *Instance) (*Instance, error) {
	if existing != nil {
		if !existing.Compatible(kind, labelNames) {
			return nil, errors.WrapInvalid(errors.ErrMetricConflict, "metric", "CreateOrReuse",
				fmt.Sprintf("metric %s registered as %s%v, requested %s%v",
					name, existing.kind, existing.labelNames, kind, sortedCopy(labelNames)))
		}
		return existing, nil
	}
	return New(kind, name, help, labelNames)
}

// Kind returns the instance's metric kind.
func (i *Instance) Kind() Kind {
	return i.kind
}

// LabelNames returns the sorted label names the instance was created with.
func (i *Instance) LabelNames() []string {
	return i.labelNames
}

// Collector returns the underlying Prometheus collector for registration.
func (i *Instance) Collector() prometheus.Collector {
	if i.counter != nil {
		return i.counter
	}
	return i.gauge
}

// Compatible reports whether the instance can absorb an update of the
// given kind and label-name set.
func (i *Instance) Compatible(kind Kind, labelNames []string) bool {
	if i.kind != kind {
		return false
	}
	names := sortedCopy(labelNames)
	if len(names) != len(i.labelNames) {
		return false
	}
	for idx, n := range names {
		if i.labelNames[idx] != n {
			return false
		}
	}
	return true
}

// Apply performs the kind-specific update:
//
//	gauge:   absolute overwrite; stale series for old label values are dropped
//	counter: value is a delta and must be >= 0; series per label-value set accumulate
//	info:    value is ignored; the label payload is replaced wholesale
func (i *Instance) Apply(value float64, labels map[string]string) error {
	switch i.kind {
	case KindGauge:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return errors.WrapInvalid(errors.ErrValueNotNumeric, "metric", "Apply",
				fmt.Sprintf("gauge %s value %v", i.name, value))
		}
		i.gauge.Reset()
		i.gauge.With(labels).Set(value)
		return nil

	case KindCounter:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return errors.WrapInvalid(errors.ErrValueNotNumeric, "metric", "Apply",
				fmt.Sprintf("counter %s delta %v", i.name, value))
		}
		if value < 0 {
			return errors.WrapInvalid(errors.ErrNegativeIncrement, "metric", "Apply",
				fmt.Sprintf("counter %s delta %v", i.name, value))
		}
		i.counter.With(labels).Add(value)
		return nil

	case KindInfo:
		i.gauge.Reset()
		i.gauge.With(labels).Set(1)
		return nil

	default:
		return errors.WrapInvalid(errors.ErrUnsupportedKind, "metric", "Apply",
			fmt.Sprintf("kind %q", i.kind))
	}
}

func sortedCopy(names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.Strings(out)
	return out
}
