// Package planner produces step plans for research goals and executes them.
//
// A plan is a list of groups. Groups are independent and run in parallel;
// the steps of a group run in order and may reference earlier outputs with
// ${step:<id>.data.<key>} placeholders.
package planner

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Plan formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

type Plan struct {
	Goal   string  `json:"goal" yaml:"goal"`
	Groups []Group `json:"groups" yaml:"groups"`
}

type Group struct {
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

type Step struct {
	ID       string            `json:"id" yaml:"id"`
	Tool     string            `json:"tool,omitempty" yaml:"tool,omitempty"`
	Title    string            `json:"title" yaml:"title"`
	Args     map[string]string `json:"args,omitempty" yaml:"args,omitempty"`
	Children []Step            `json:"children,omitempty" yaml:"children,omitempty"`
}

// ErrDuplicateStep is returned for a plan whose step ids are empty or
// repeated. Call AssignIDs first on plans that did not come from a Planner.
var ErrDuplicateStep = errors.New("plan step ids must be unique and non-empty")

// checkIDs reports the first empty or repeated step id.
func (p Plan) checkIDs() error {
	seen := make(map[string]bool)
	var walk func(steps []Step) error
	walk = func(steps []Step) error {
		for _, s := range steps {
			if s.ID == "" || seen[s.ID] {
				return fmt.Errorf("%w: %q", ErrDuplicateStep, s.ID)
			}
			seen[s.ID] = true
			if err := walk(s.Children); err != nil {
				return err
			}
		}
		return nil
	}
	for _, g := range p.Groups {
		if err := walk(g.Steps); err != nil {
			return err
		}
	}
	return nil
}

// StepCount returns the number of steps in the plan, children included.
func (p Plan) StepCount() int {
	n := 0
	for _, g := range p.Groups {
		n += countSteps(g.Steps)
	}
	return n
}

func countSteps(steps []Step) int {
	n := len(steps)
	for _, s := range steps {
		n += countSteps(s.Children)
	}
	return n
}

// Depth returns the nesting depth of the deepest step (1 for a flat plan,
// 0 for an empty one).
func (p Plan) Depth() int {
	d := 0
	for _, g := range p.Groups {
		d = max(d, stepDepth(g.Steps))
	}
	return d
}

func stepDepth(steps []Step) int {
	if len(steps) == 0 {
		return 0
	}
	d := 0
	for _, s := range steps {
		d = max(d, stepDepth(s.Children))
	}
	return d + 1
}

// Marshal encodes the plan as indented JSON or YAML.
func (p Plan) Marshal(format string) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.MarshalIndent(p, "", "  ")
	case FormatYAML:
		return yaml.Marshal(p)
	default:
		return nil, fmt.Errorf("unsupported plan format %q", format)
	}
}

// Unmarshal decodes a plan in the given format.
func Unmarshal(data []byte, format string) (Plan, error) {
	var p Plan
	var err error
	switch format {
	case FormatJSON, "":
		err = json.Unmarshal(data, &p)
	case FormatYAML:
		err = yaml.Unmarshal(data, &p)
	default:
		return Plan{}, fmt.Errorf("unsupported plan format %q", format)
	}
	if err != nil {
		return Plan{}, fmt.Errorf("decoding %s plan: %w", format, err)
	}
	return p, nil
}
