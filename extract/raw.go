package extract

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Raw is the configuration-file shape of an extractor spec, before
// compilation. It accepts three YAML forms:
//
//	help: "$.event.fields.help"              # single stage
//	value: ["$.event.message", "/\\(x\\)/"]  # one chain of stages
//	labels:                                  # independent chains
//	  - ["$.event.fields.labels"]
//	  - ["$.backlog.labels"]
//
// A flat list containing any nested list is treated as a list of chains,
// with bare strings promoted to single-stage chains.
type Raw struct {
	chains [][]string
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Raw) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		r.chains = [][]string{{s}}
		return nil

	case yaml.SequenceNode:
		nested := false
		for _, item := range node.Content {
			if item.Kind == yaml.SequenceNode {
				nested = true
				break
			}
		}

		if !nested {
			var chain []string
			if err := node.Decode(&chain); err != nil {
				return err
			}
			r.chains = [][]string{chain}
			return nil
		}

		r.chains = nil
		for _, item := range node.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				var s string
				if err := item.Decode(&s); err != nil {
					return err
				}
				r.chains = append(r.chains, []string{s})
			case yaml.SequenceNode:
				var chain []string
				if err := item.Decode(&chain); err != nil {
					return err
				}
				r.chains = append(r.chains, chain)
			default:
				return fmt.Errorf("extractor spec: unexpected %s in chain list", kindName(item.Kind))
			}
		}
		return nil

	default:
		return fmt.Errorf("extractor spec: expected string or list, got %s", kindName(node.Kind))
	}
}

// NewRaw builds a Raw spec programmatically. Intended for tests.
func NewRaw(chains ...[]string) *Raw {
	return &Raw{chains: chains}
}

func kindName(kind yaml.Kind) string {
	switch kind {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}
