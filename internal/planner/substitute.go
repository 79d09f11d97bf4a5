package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// StepOutput is the data a tool produced for one step.
type StepOutput struct {
	Data map[string]any `json:"data"`
}

// Step ids may contain dots (s1.2), so the id match is lazy and anchored on
// the ".data." separator.
var stepRef = regexp.MustCompile(`\$\{step:([^}]+?)\.data\.([^}.]+)\}`)

// Substitute replaces every ${step:<id>.data.<key>} in template with the
// matching output value. References to unknown steps or keys are left as is.
// Non-string values are JSON-encoded.
func Substitute(template string, outputs map[string]StepOutput) string {
	return stepRef.ReplaceAllStringFunc(template, func(ref string) string {
		m := stepRef.FindStringSubmatch(ref)
		out, ok := outputs[m[1]]
		if !ok {
			return ref
		}
		v, ok := out.Data[m[2]]
		if !ok {
			return ref
		}
		return stringify(v)
	})
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// SubstituteArgs applies Substitute to every argument value.
func SubstituteArgs(args map[string]string, outputs map[string]StepOutput) map[string]string {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]string, len(args))
	for k, v := range args {
		out[k] = Substitute(v, outputs)
	}
	return out
}
