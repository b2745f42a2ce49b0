package extract

import (
	"fmt"
	"testing"

	"github.com/PaesslerAG/gval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func functionDouble() gval.Language {
	return gval.Function("double", func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("double: expected 1 argument")
		}
		n, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("double: expected number, got %T", args[0])
		}
		return n * 2, nil
	})
}

func testDoc() map[string]interface{} {
	return map[string]interface{}{
		"event": map[string]interface{}{
			"message": "queue depth (42) exceeded",
			"fields": map[string]interface{}{
				"help":  "queue depth by host",
				"type":  "gauge",
				"value": 17.5,
				"labels": map[string]interface{}{
					"host": "db-1",
				},
			},
		},
	}
}

func compileSpec(t *testing.T, raw *Raw) *Spec {
	t.Helper()
	spec, err := NewEvaluator().Compile(raw)
	require.NoError(t, err)
	return spec
}

func TestSingleQueryStage(t *testing.T) {
	spec := compileSpec(t, NewRaw([]string{"$.event.fields.help"}))

	result := spec.Evaluate(testDoc(), "fallback")
	assert.Equal(t, "queue depth by host", result)
}

func TestQueryMissReturnsDefault(t *testing.T) {
	spec := compileSpec(t, NewRaw([]string{"$.event.fields.nonexistent"}))

	result := spec.Evaluate(testDoc(), "fallback")
	assert.Equal(t, "fallback", result)
}

func TestFalsyResultReturnsDefault(t *testing.T) {
	doc := map[string]interface{}{
		"count": float64(0),
		"name":  "",
		"flags": []interface{}{},
	}

	for _, query := range []string{"$.count", "$.name", "$.flags"} {
		spec := compileSpec(t, NewRaw([]string{query}))
		assert.Equal(t, "fallback", spec.Evaluate(doc, "fallback"), "query %s", query)
	}
}

func TestRegexStageOnString(t *testing.T) {
	spec := compileSpec(t, NewRaw([]string{`/\((\d+)\)/`}))

	// The regex runs over the JSON serialization of the input value.
	result := spec.Evaluate("queue depth (42) exceeded", "fallback")
	assert.Equal(t, "42", result)
}

func TestRegexStageNoMatchReturnsDefault(t *testing.T) {
	spec := compileSpec(t, NewRaw([]string{`/\((\d+)\)/`}))

	result := spec.Evaluate("no parens here", "fallback")
	assert.Equal(t, "fallback", result)
}

func TestChainedStages(t *testing.T) {
	// First stage narrows to the message, second extracts the number.
	spec := compileSpec(t, NewRaw([]string{"$.event.message", `/\((\d+)\)/`}))

	result := spec.Evaluate(testDoc(), "fallback")
	assert.Equal(t, "42", result)
}

func TestChainDefaultFeedsNextStage(t *testing.T) {
	// A failed first stage yields the default, which the second stage
	// still operates on.
	spec := compileSpec(t, NewRaw([]string{"$.missing", `/\((\d+)\)/`}))

	result := spec.Evaluate(testDoc(), "(7)")
	assert.Equal(t, "7", result)
}

func TestMultipleChainsYieldList(t *testing.T) {
	spec := compileSpec(t, NewRaw(
		[]string{"$.event.fields.help"},
		[]string{"$.event.fields.type"},
	))

	result := spec.Evaluate(testDoc(), "fallback")
	require.IsType(t, []interface{}{}, result)
	list := result.([]interface{})
	require.Len(t, list, 2)
	assert.Equal(t, "queue depth by host", list[0])
	assert.Equal(t, "gauge", list[1])
}

func TestIndependentChainsSeeOriginalDocument(t *testing.T) {
	spec := compileSpec(t, NewRaw(
		[]string{"$.event.message", `/\((\d+)\)/`},
		[]string{"$.event.fields.value"},
	))

	result := spec.Evaluate(testDoc(), nil)
	list := result.([]interface{})
	require.Len(t, list, 2)
	assert.Equal(t, "42", list[0])
	assert.Equal(t, 17.5, list[1])
}

func TestEmptyStageShortCircuits(t *testing.T) {
	spec := compileSpec(t, NewRaw([]string{""}))

	result := spec.Evaluate(testDoc(), "fallback")
	assert.Equal(t, "fallback", result)
}

func TestEmptySpecReturnsDefault(t *testing.T) {
	spec := compileSpec(t, nil)
	assert.True(t, spec.IsZero())
	assert.Equal(t, "fallback", spec.Evaluate(testDoc(), "fallback"))
}

func TestItemsFunction(t *testing.T) {
	doc := map[string]interface{}{
		"labels": map[string]interface{}{
			"b": "2",
			"a": "1",
		},
	}
	spec := compileSpec(t, NewRaw([]string{"items($.labels)"}))

	result := spec.Evaluate(doc, nil)
	require.IsType(t, []interface{}{}, result)
	pairs := result.([]interface{})
	require.Len(t, pairs, 2)
	assert.Equal(t, []interface{}{"a", "1"}, pairs[0])
	assert.Equal(t, []interface{}{"b", "2"}, pairs[1])
}

func TestToObjectFunction(t *testing.T) {
	doc := map[string]interface{}{
		"pairs": []interface{}{
			[]interface{}{"host", "db-1"},
			[]interface{}{"severity", "warn"},
		},
	}
	spec := compileSpec(t, NewRaw([]string{"toObject($.pairs)"}))

	result := spec.Evaluate(doc, nil)
	assert.Equal(t, map[string]interface{}{
		"host":     "db-1",
		"severity": "warn",
	}, result)
}

func TestItemsRoundTrip(t *testing.T) {
	doc := map[string]interface{}{
		"labels": map[string]interface{}{"x": "1", "y": "2"},
	}
	spec := compileSpec(t, NewRaw([]string{"toObject(items($.labels))"}))

	result := spec.Evaluate(doc, nil)
	assert.Equal(t, doc["labels"], result)
}

func TestCompileRejectsMalformedRegex(t *testing.T) {
	_, err := NewEvaluator().Compile(NewRaw([]string{`/((/`}))
	assert.Error(t, err)
}

func TestCompileRejectsMalformedQuery(t *testing.T) {
	_, err := NewEvaluator().Compile(NewRaw([]string{"$.a +"}))
	assert.Error(t, err)
}

func TestCustomExtension(t *testing.T) {
	// Extensions passed at construction extend the static function table.
	ev := NewEvaluator(functionDouble())
	spec, err := ev.Compile(NewRaw([]string{"double($.n)"}))
	require.NoError(t, err)

	result := spec.Evaluate(map[string]interface{}{"n": float64(21)}, nil)
	assert.Equal(t, float64(42), result)
}

func TestRawUnmarshalForms(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want [][]string
	}{
		{
			name: "scalar",
			yaml: `"$.event.fields.help"`,
			want: [][]string{{"$.event.fields.help"}},
		},
		{
			name: "flat list is one chain",
			yaml: `["$.event.message", "/x/"]`,
			want: [][]string{{"$.event.message", "/x/"}},
		},
		{
			name: "nested list is independent chains",
			yaml: `[["$.a"], ["$.b", "/y/"]]`,
			want: [][]string{{"$.a"}, {"$.b", "/y/"}},
		},
		{
			name: "bare string promoted to chain in nested form",
			yaml: `["$.a", ["$.b"]]`,
			want: [][]string{{"$.a"}, {"$.b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw Raw
			require.NoError(t, yaml.Unmarshal([]byte(tt.yaml), &raw))
			assert.Equal(t, tt.want, raw.chains)
		})
	}
}

func TestRawUnmarshalRejectsMapping(t *testing.T) {
	var raw Raw
	err := yaml.Unmarshal([]byte(`{key: value}`), &raw)
	assert.Error(t, err)
}
