// Package extract implements the chained extractor evaluator that turns a
// JSON-like document into scalar values.
//
// An extractor spec is written in configuration as either a single stage,
// an ordered chain of stages, or a list of independent chains. A stage is
// either a JSONPath query ("$.event.fields.help") or a regular expression
// in delimited form ("/\\((\\d+)\\)/") whose first capture group is taken
// from the JSON serialization of the current value. Within a chain each
// stage's output feeds the next stage's input; independent chains are all
// evaluated against the original document.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"github.com/Oorpe/prometheus-webhook-collector/errors"
)

// Evaluator compiles and evaluates extractor specs. The query language it
// accepts is fixed at construction: custom functions are an additive,
// statically-registered table, never a mutation of shared library state.
type Evaluator struct {
	lang gval.Language
}

// NewEvaluator creates an evaluator with the built-in function table
// (items, toObject) plus any extra language extensions.
func NewEvaluator(extensions ...gval.Language) *Evaluator {
	base := []gval.Language{
		gval.Full(jsonpath.PlaceholderExtension()),
		gval.Function("items", itemsFunc),
		gval.Function("toObject", toObjectFunc),
	}
	return &Evaluator{
		lang: gval.NewLanguage(append(base, extensions...)...),
	}
}

// itemsFunc turns a mapping into a sorted list of [key, value] pairs.
func itemsFunc(args ...interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("items: expected 1 argument, got %d", len(args))
	}
	obj, ok := args[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("items: expected object, got %T", args[0])
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, []interface{}{k, obj[k]})
	}
	return pairs, nil
}

// toObjectFunc turns a list of [key, value] pairs back into a mapping.
func toObjectFunc(args ...interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("toObject: expected 1 argument, got %d", len(args))
	}
	pairs, ok := args[0].([]interface{})
	if !ok {
		return nil, fmt.Errorf("toObject: expected array, got %T", args[0])
	}

	obj := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		pair, ok := p.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("toObject: element is not a [key, value] pair")
		}
		key, ok := pair[0].(string)
		if !ok {
			return nil, fmt.Errorf("toObject: key is not a string: %v", pair[0])
		}
		obj[key] = pair[1]
	}
	return obj, nil
}

// stage is one step of an extractor chain.
type stage interface {
	run(value, def interface{}) interface{}
}

// regexStage searches the JSON serialization of the current value and
// yields the first capture group.
type regexStage struct {
	re *regexp.Regexp
}

func (s *regexStage) run(value, def interface{}) interface{} {
	m := s.re.FindStringSubmatch(asText(value))
	if len(m) < 2 {
		return def
	}
	return m[1]
}

// queryStage evaluates a JSONPath query against the current value.
type queryStage struct {
	src  string
	eval gval.Evaluable
}

func (s *queryStage) run(value, def interface{}) interface{} {
	result, err := s.eval(context.Background(), value)
	if err != nil || isFalsy(result) {
		return def
	}
	return result
}

// Spec is a compiled extractor specification.
type Spec struct {
	chains [][]stage
}

// Compile turns a raw spec into an evaluatable one. Malformed regexes and
// queries are configuration errors surfaced here, at rule-load time.
func (ev *Evaluator) Compile(raw *Raw) (*Spec, error) {
	if raw == nil || len(raw.chains) == 0 {
		return &Spec{}, nil
	}

	compiled := make([][]stage, 0, len(raw.chains))
	for _, chain := range raw.chains {
		stages := make([]stage, 0, len(chain))
		for _, src := range chain {
			st, err := ev.compileStage(src)
			if err != nil {
				return nil, err
			}
			stages = append(stages, st)
		}
		compiled = append(compiled, stages)
	}
	return &Spec{chains: compiled}, nil
}

// compileStage compiles a single stage string.
func (ev *Evaluator) compileStage(src string) (stage, error) {
	if src == "" {
		return nil, nil // empty stage, short-circuits at evaluation
	}
	if strings.HasPrefix(src, "/") && strings.HasSuffix(src, "/") && len(src) > 1 {
		re, err := regexp.Compile(strings.Trim(src, "/"))
		if err != nil {
			return nil, errors.WrapInvalid(err, "extract", "compileStage",
				fmt.Sprintf("regex %q", src))
		}
		return &regexStage{re: re}, nil
	}

	eval, err := ev.lang.NewEvaluable(src)
	if err != nil {
		return nil, errors.WrapInvalid(err, "extract", "compileStage",
			fmt.Sprintf("query %q", src))
	}
	return &queryStage{src: src, eval: eval}, nil
}

// Evaluate runs the spec against a document. A spec with a single chain
// yields that chain's scalar result; a spec with several chains yields a
// list of results in chain order. Callers branch on this duality.
func (s *Spec) Evaluate(doc, def interface{}) interface{} {
	if len(s.chains) == 0 {
		return def
	}
	if len(s.chains) == 1 {
		return evalChain(s.chains[0], doc, def)
	}

	results := make([]interface{}, 0, len(s.chains))
	for _, chain := range s.chains {
		results = append(results, evalChain(chain, doc, def))
	}
	return results
}

// IsZero reports whether the spec has no chains (unconfigured field).
func (s *Spec) IsZero() bool {
	return s == nil || len(s.chains) == 0
}

// evalChain folds a chain left to right: stage i's result becomes stage
// i+1's input. A nil (empty) stage short-circuits the fold to the default.
func evalChain(chain []stage, doc, def interface{}) interface{} {
	prev := doc
	for _, st := range chain {
		if st == nil {
			return def
		}
		prev = st.run(prev, def)
	}
	return prev
}

// asText serializes a value to text for regex stages. Values are always
// JSON-serialized, matching the coercion the stage contract defines.
func asText(value interface{}) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

// isFalsy reports whether a query result should be treated as "nothing".
func isFalsy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	case float64:
		return v == 0
	case int:
		return v == 0
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	default:
		return false
	}
}
