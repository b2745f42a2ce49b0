package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Oorpe/prometheus-webhook-collector/errors"
	"github.com/Oorpe/prometheus-webhook-collector/extract"
	"github.com/Oorpe/prometheus-webhook-collector/metric"
)

func mustSet(t *testing.T, yamlDefs string) *Set {
	t.Helper()
	var defs []Definition
	require.NoError(t, yaml.Unmarshal([]byte(yamlDefs), &defs))
	set, err := NewSet(extract.NewEvaluator(), defs)
	require.NoError(t, err)
	return set
}

func TestMatchFirstWins(t *testing.T) {
	// Declaration order decides: the generic prefix rule shadows the more
	// specific one declared after it.
	set := mustSet(t, `
- event_title: "odalogs_"
- event_title: "odalogs_cpu_alerts"
`)

	r, err := set.Match("odalogs_cpu_alerts")
	require.NoError(t, err)
	assert.Equal(t, "odalogs_", r.Pattern())
}

func TestMatchSpecificFirst(t *testing.T) {
	set := mustSet(t, `
- event_title: "odalogs_cpu_alerts"
- event_title: "odalogs_"
`)

	r, err := set.Match("odalogs_cpu_alerts")
	require.NoError(t, err)
	assert.Equal(t, "odalogs_cpu_alerts", r.Pattern())

	r, err = set.Match("odalogs_disk_alerts")
	require.NoError(t, err)
	assert.Equal(t, "odalogs_", r.Pattern())
}

func TestMatchAnchoredAtStart(t *testing.T) {
	set := mustSet(t, `
- event_title: "cpu"
`)

	// The pattern must match at the start of the event name, not anywhere
	// inside it.
	_, err := set.Match("odalogs_cpu_alerts")
	assert.Error(t, err)

	r, err := set.Match("cpu_alerts")
	require.NoError(t, err)
	assert.Equal(t, "cpu", r.Pattern())
}

func TestMatchExplicitCaretEquivalent(t *testing.T) {
	plain := mustSet(t, "- event_title: \"odalogs_\"")
	caret := mustSet(t, "- event_title: \"^odalogs_\"")

	for _, name := range []string{"odalogs_x", "x_odalogs_"} {
		_, errPlain := plain.Match(name)
		_, errCaret := caret.Match(name)
		assert.Equal(t, errPlain == nil, errCaret == nil, "event %s", name)
	}
}

func TestMatchNotFoundCarriesPatterns(t *testing.T) {
	set := mustSet(t, `
- event_title: "alpha"
- event_title: "beta"
`)

	_, err := set.Match("gamma")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRuleNotFound))

	var nfe *NotFoundError
	require.True(t, errors.As(err, &nfe))
	assert.Equal(t, "gamma", nfe.Event)
	assert.Equal(t, []string{"alpha", "beta"}, nfe.Patterns)
}

func TestNewSetRejectsMalformedPattern(t *testing.T) {
	_, err := NewSet(extract.NewEvaluator(), []Definition{
		{EventTitle: "([unclosed"},
	})
	assert.Error(t, err)
}

func TestNewSetRejectsEmptyTitle(t *testing.T) {
	_, err := NewSet(extract.NewEvaluator(), []Definition{{}})
	assert.Error(t, err)
}

func TestNewSetRejectsMalformedExtractor(t *testing.T) {
	_, err := NewSet(extract.NewEvaluator(), []Definition{
		{
			EventTitle: "ok",
			Extractors: ExtractorDefs{Value: extract.NewRaw([]string{"/((/"})},
		},
	})
	assert.Error(t, err)
}

func TestResolveDefaults(t *testing.T) {
	// No extractors configured at all: everything except value degrades
	// to its default, and the missing value is a request error.
	set := mustSet(t, "- event_title: \"bare\"")
	r, err := set.Match("bare")
	require.NoError(t, err)

	_, err = r.Resolve(map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValueNotNumeric))
}

func TestResolveFullDocument(t *testing.T) {
	set := mustSet(t, `
- event_title: "queue_"
  extractors:
    help: "$.event.fields.help"
    type: "$.event.fields.type"
    value: "$.event.fields.value"
    labels: "$.event.fields.labels"
`)
	r, err := set.Match("queue_depth")
	require.NoError(t, err)

	fields, err := r.Resolve(map[string]interface{}{
		"event": map[string]interface{}{
			"fields": map[string]interface{}{
				"help":   "queue depth by host",
				"type":   "counter",
				"value":  float64(3),
				"labels": map[string]interface{}{"host": "db-1"},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "queue depth by host", fields.Help)
	assert.Equal(t, metric.KindCounter, fields.Kind)
	assert.Equal(t, float64(3), fields.Value)
	assert.Equal(t, map[string]string{"host": "db-1"}, fields.Labels)
}

func TestResolveRegexValue(t *testing.T) {
	set := mustSet(t, `
- event_title: "log_"
  extractors:
    value: ["$.message", "/\\((\\d+)\\)/"]
`)
	r, err := set.Match("log_event")
	require.NoError(t, err)

	fields, err := r.Resolve(map[string]interface{}{
		"message": "queue depth (42) exceeded",
	})
	require.NoError(t, err)
	assert.Equal(t, float64(42), fields.Value)
	assert.Equal(t, "default help", fields.Help)
	assert.Equal(t, metric.KindGauge, fields.Kind)
}

func TestResolveUnparseableValue(t *testing.T) {
	set := mustSet(t, `
- event_title: "bad_"
  extractors:
    value: "$.text"
`)
	r, err := set.Match("bad_value")
	require.NoError(t, err)

	_, err = r.Resolve(map[string]interface{}{"text": "not a number"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValueNotNumeric))
}

func TestResolveUnsupportedKind(t *testing.T) {
	set := mustSet(t, `
- event_title: "bad_"
  extractors:
    type: "$.kind"
    value: "$.value"
`)
	r, err := set.Match("bad_kind")
	require.NoError(t, err)

	_, err = r.Resolve(map[string]interface{}{
		"kind":  "histogram",
		"value": float64(1),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedKind))
}

func TestResolveLabelFailureYieldsWarnLabel(t *testing.T) {
	set := mustSet(t, `
- event_title: "nolabels_"
  extractors:
    value: "$.value"
    labels: "$.missing.labels"
`)
	r, err := set.Match("nolabels_event")
	require.NoError(t, err)

	fields, err := r.Resolve(map[string]interface{}{"value": float64(1)})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{WarnLabelKey: WarnLabelValue}, fields.Labels)
}

func TestResolveMultiChainLabelsMerge(t *testing.T) {
	set := mustSet(t, `
- event_title: "merge_"
  extractors:
    value: "$.value"
    labels:
      - ["$.base"]
      - ["$.extra"]
`)
	r, err := set.Match("merge_event")
	require.NoError(t, err)

	fields, err := r.Resolve(map[string]interface{}{
		"value": float64(1),
		"base":  map[string]interface{}{"host": "db-1", "env": "dev"},
		"extra": map[string]interface{}{"env": "prod"},
	})
	require.NoError(t, err)
	// Later chains overwrite earlier keys.
	assert.Equal(t, map[string]string{"host": "db-1", "env": "prod"}, fields.Labels)
}

func TestValidateDocument(t *testing.T) {
	set := mustSet(t, `
- event_title: "strict_"
  schema:
    type: object
    required: ["value"]
    properties:
      value:
        type: number
  extractors:
    value: "$.value"
`)
	r, err := set.Match("strict_event")
	require.NoError(t, err)

	require.NoError(t, r.ValidateDocument(map[string]interface{}{"value": float64(1)}))

	err = r.ValidateDocument(map[string]interface{}{"other": "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSchemaViolation))
}

func TestValidateDocumentNoSchema(t *testing.T) {
	set := mustSet(t, "- event_title: \"open_\"")
	r, err := set.Match("open_event")
	require.NoError(t, err)

	assert.NoError(t, r.ValidateDocument(map[string]interface{}{"anything": true}))
}

func TestStringifyLabelValues(t *testing.T) {
	set := mustSet(t, `
- event_title: "types_"
  extractors:
    value: "$.value"
    labels: "$.labels"
`)
	r, err := set.Match("types_event")
	require.NoError(t, err)

	fields, err := r.Resolve(map[string]interface{}{
		"value": float64(1),
		"labels": map[string]interface{}{
			"count":   float64(3),
			"enabled": true,
			"name":    "db-1",
			"empty":   nil,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"count":   "3",
		"enabled": "true",
		"name":    "db-1",
		"empty":   "",
	}, fields.Labels)
}
