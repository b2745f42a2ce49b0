// Package metric manages the lifecycle of dynamically created Prometheus
// metric instances: a process-wide registry with keyed registration and
// unregistration, and a factory that creates or reuses typed instances
// (gauge, counter, info) and applies kind-specific updates.
package metric

import (
	"fmt"

	"github.com/Oorpe/prometheus-webhook-collector/errors"
)

// Kind is the closed set of metric semantics the collector supports.
type Kind int

const (
	// KindGauge is an absolute value, overwritten on every update.
	KindGauge Kind = iota
	// KindCounter is a monotonic accumulator of non-negative deltas.
	KindCounter
	// KindInfo is a label-only descriptive record; the numeric value is ignored.
	KindInfo
)

// String returns the configuration-file name of the kind.
func (k Kind) String() string {
	switch k {
	case KindGauge:
		return "gauge"
	case KindCounter:
		return "counter"
	case KindInfo:
		return "info"
	default:
		return "unknown"
	}
}

// ParseKind maps a kind string to its Kind. Unknown strings are rejected
// here, at the boundary, naming the offending value.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "gauge":
		return KindGauge, nil
	case "counter":
		return KindCounter, nil
	case "info":
		return KindInfo, nil
	default:
		return 0, errors.WrapInvalid(errors.ErrUnsupportedKind, "metric", "ParseKind",
			fmt.Sprintf("kind %q", s))
	}
}
