package threshold

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Set is an ordered list of thresholds decoded from a YAML mapping of
// metric name to a list of expressions. Mapping order is preserved so that
// evaluation output follows the configuration file.
type Set []Spec

type specNode struct {
	Threshold      string        `yaml:"threshold"`
	AbortOnFail    bool          `yaml:"abortOnFail"`
	DelayAbortEval time.Duration `yaml:"delayAbortEval"`
}

// UnmarshalYAML accepts either form per entry:
//
//	http_req_duration: ["p(95)<2000"]
//	errors:
//	  - threshold: "rate<0.1"
//	    abortOnFail: true
func (s *Set) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: thresholds must be a mapping of metric name to expressions", value.Line)
	}

	var out Set
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, list := value.Content[i], value.Content[i+1]
		metric := key.Value

		entries := []*yaml.Node{list}
		if list.Kind == yaml.SequenceNode {
			entries = list.Content
		}

		for _, entry := range entries {
			var sn specNode
			switch entry.Kind {
			case yaml.ScalarNode:
				sn.Threshold = entry.Value
			case yaml.MappingNode:
				if err := entry.Decode(&sn); err != nil {
					return fmt.Errorf("line %d: %s: %w", entry.Line, metric, err)
				}
			default:
				return fmt.Errorf("line %d: %s: threshold must be a string or mapping", entry.Line, metric)
			}

			spec, err := Parse(metric, sn.Threshold)
			if err != nil {
				return fmt.Errorf("line %d: %w", entry.Line, err)
			}
			spec.AbortOnFail = sn.AbortOnFail
			spec.DelayAbortEval = sn.DelayAbortEval
			out = append(out, spec)
		}
	}

	*s = out
	return nil
}

// HasAbortOnFail reports whether any threshold may abort the run early.
func (s Set) HasAbortOnFail() bool {
	for _, spec := range s {
		if spec.AbortOnFail {
			return true
		}
	}
	return false
}
