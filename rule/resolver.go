package rule

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/Oorpe/prometheus-webhook-collector/errors"
	"github.com/Oorpe/prometheus-webhook-collector/metric"
)

// Defaults used when an extractor is unconfigured or yields nothing.
const (
	DefaultHelp = "default help"
	DefaultKind = "gauge"

	// WarnLabelKey/WarnLabelValue form the diagnostic label applied when
	// label extraction fails, so the failure is visible in the exported
	// series instead of silently dropped.
	WarnLabelKey   = "warn"
	WarnLabelValue = "label extraction failed"
)

// Fields is the resolved (help, kind, value, labels) tuple for one event.
type Fields struct {
	Help   string
	Kind   metric.Kind
	Value  float64
	Labels map[string]string
}

// Resolve runs the rule's four extractor chains against the document and
// assembles the metric fields. An unparseable value or an unsupported
// kind is a request-level error; help and labels degrade to defaults.
func (r *Rule) Resolve(doc interface{}) (Fields, error) {
	help := asString(r.help.Evaluate(doc, DefaultHelp))

	kindStr := asString(r.kind.Evaluate(doc, DefaultKind))
	kind, err := metric.ParseKind(kindStr)
	if err != nil {
		return Fields{}, err
	}

	value, err := asNumber(r.value.Evaluate(doc, nil))
	if err != nil {
		return Fields{}, err
	}

	labels := asLabels(r.labels.Evaluate(doc, nil))

	return Fields{
		Help:   help,
		Kind:   kind,
		Value:  value,
		Labels: labels,
	}, nil
}

// asString coerces an extracted value to text. Non-strings are
// JSON-serialized rather than formatted with Go verbs, keeping the output
// stable for documents of any shape.
func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// asNumber coerces an extracted value to a finite float64. Anything else
// is a typed request error, never a silent default.
func asNumber(v interface{}) (float64, error) {
	var (
		f   float64
		err error
	)
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		f, err = n.Float64()
	case string:
		f, err = strconv.ParseFloat(n, 64)
	default:
		err = fmt.Errorf("cannot interpret %T (%v) as number", v, v)
	}

	if err != nil {
		return 0, errors.WrapInvalid(errors.ErrValueNotNumeric, "Rule", "Resolve",
			fmt.Sprintf("value %v: %v", v, err))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.WrapInvalid(errors.ErrValueNotNumeric, "Rule", "Resolve",
			fmt.Sprintf("value %v is not finite", f))
	}
	return f, nil
}

// asLabels coerces an extracted value to a label mapping. A list of
// mappings (the multi-chain case) is merged into one, later entries
// overwriting earlier keys. Anything that is not a mapping degrades to
// the diagnostic warn label.
func asLabels(v interface{}) map[string]string {
	switch labels := v.(type) {
	case map[string]interface{}:
		if len(labels) > 0 {
			return stringifyLabels(labels)
		}
	case []interface{}:
		merged := make(map[string]interface{})
		for _, item := range labels {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			for k, val := range m {
				merged[k] = val
			}
		}
		if len(merged) > 0 {
			return stringifyLabels(merged)
		}
	case map[string]string:
		if len(labels) > 0 {
			return labels
		}
	}
	return map[string]string{WarnLabelKey: WarnLabelValue}
}

// stringifyLabels renders label values as exposition-safe strings.
func stringifyLabels(in map[string]interface{}) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch s := v.(type) {
		case string:
			out[k] = s
		case float64:
			out[k] = strconv.FormatFloat(s, 'g', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(s)
		case nil:
			out[k] = ""
		default:
			out[k] = asString(v)
		}
	}
	return out
}
