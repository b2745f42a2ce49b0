// Package rule holds the configured event handler rules: which event
// names they match, an optional payload schema, and the extractor chains
// that derive a metric's help text, kind, value, and label set from the
// event document.
package rule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Oorpe/prometheus-webhook-collector/errors"
	"github.com/Oorpe/prometheus-webhook-collector/extract"
)

// Definition is the configuration-file shape of one event handler.
type Definition struct {
	EventTitle string                 `yaml:"event_title"`
	Schema     map[string]interface{} `yaml:"schema,omitempty"`
	Extractors ExtractorDefs          `yaml:"extractors"`
}

// ExtractorDefs names the four extractor specs of a handler. The wire
// field is "type" rather than "kind", keeping the original config
// vocabulary.
type ExtractorDefs struct {
	Help   *extract.Raw `yaml:"help,omitempty"`
	Type   *extract.Raw `yaml:"type,omitempty"`
	Value  *extract.Raw `yaml:"value,omitempty"`
	Labels *extract.Raw `yaml:"labels,omitempty"`
}

// Rule is a compiled event handler. Immutable after load; shared
// read-only across concurrent requests.
type Rule struct {
	pattern       *regexp.Regexp
	patternSource string
	schema        *gojsonschema.Schema

	help   *extract.Spec
	kind   *extract.Spec
	value  *extract.Spec
	labels *extract.Spec
}

// Pattern returns the configured event title pattern.
func (r *Rule) Pattern() string {
	return r.patternSource
}

// ValidateDocument checks the event document against the rule's schema,
// if one is configured.
func (r *Rule) ValidateDocument(doc interface{}) error {
	if r.schema == nil {
		return nil
	}

	result, err := r.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errors.WrapInvalid(err, "Rule", "ValidateDocument", "schema evaluation")
	}
	if result.Valid() {
		return nil
	}

	descriptions := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		descriptions = append(descriptions, desc.String())
	}
	return errors.WrapInvalid(errors.ErrSchemaViolation, "Rule", "ValidateDocument",
		strings.Join(descriptions, "; "))
}

// Set is the ordered collection of compiled rules.
type Set struct {
	rules    []*Rule
	patterns []string
}

// NotFoundError reports that no configured pattern matched an event name.
// It carries the full ordered pattern list for diagnostic responses.
type NotFoundError struct {
	Event    string
	Patterns []string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no event handler matches %q (configured: %s)",
		e.Event, strings.Join(e.Patterns, ", "))
}

// Unwrap ties the error to the standard rule-not-found variable.
func (e *NotFoundError) Unwrap() error {
	return errors.ErrRuleNotFound
}

// NewSet compiles the configured definitions in declaration order.
// Malformed patterns, queries, or schemas fail here, before any traffic
// is served.
func NewSet(ev *extract.Evaluator, defs []Definition) (*Set, error) {
	set := &Set{
		rules:    make([]*Rule, 0, len(defs)),
		patterns: make([]string, 0, len(defs)),
	}

	for i, def := range defs {
		r, err := compile(ev, def)
		if err != nil {
			return nil, errors.Wrap(err, "rule", "NewSet",
				fmt.Sprintf("event handler %d (%s)", i, def.EventTitle))
		}
		set.rules = append(set.rules, r)
		set.patterns = append(set.patterns, def.EventTitle)
	}
	return set, nil
}

// compile builds one Rule from its definition.
func compile(ev *extract.Evaluator, def Definition) (*Rule, error) {
	if def.EventTitle == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "rule", "compile",
			"event_title is required")
	}

	// Patterns match anchored at the start of the event name, so
	// "^odalogs_" and "odalogs_" behave identically. A match does not
	// need to cover the whole name.
	source := def.EventTitle
	anchored := source
	if !strings.HasPrefix(anchored, "^") {
		anchored = "^(?:" + anchored + ")"
	}
	pattern, err := regexp.Compile(anchored)
	if err != nil {
		return nil, errors.WrapInvalid(err, "rule", "compile",
			fmt.Sprintf("event_title pattern %q", source))
	}

	r := &Rule{
		pattern:       pattern,
		patternSource: source,
	}

	if def.Schema != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Schema))
		if err != nil {
			return nil, errors.WrapInvalid(err, "rule", "compile", "schema")
		}
		r.schema = schema
	}

	if r.help, err = ev.Compile(def.Extractors.Help); err != nil {
		return nil, err
	}
	if r.kind, err = ev.Compile(def.Extractors.Type); err != nil {
		return nil, err
	}
	if r.value, err = ev.Compile(def.Extractors.Value); err != nil {
		return nil, err
	}
	if r.labels, err = ev.Compile(def.Extractors.Labels); err != nil {
		return nil, err
	}
	return r, nil
}

// Match returns the first rule, in declaration order, whose pattern
// matches the event name. First match wins; later, more specific rules
// are never consulted.
func (s *Set) Match(eventName string) (*Rule, error) {
	for _, r := range s.rules {
		if r.pattern.MatchString(eventName) {
			return r, nil
		}
	}
	return nil, &NotFoundError{Event: eventName, Patterns: s.Patterns()}
}

// Patterns returns the configured patterns in declaration order.
func (s *Set) Patterns() []string {
	out := make([]string, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Len returns the number of configured rules.
func (s *Set) Len() int {
	return len(s.rules)
}
