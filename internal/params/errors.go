package params

import (
	"fmt"
	"strings"
)

// Rule names for FieldError.Rule. Stable strings: surfaced to API callers.
const (
	RuleRequired = "required"
	RuleType     = "type"
	RuleMin      = "min"
	RuleMax      = "max"
	RuleEnum     = "enum"
	RuleUnknown  = "unknown_field"
)

// FieldError describes a single validation violation.
type FieldError struct {
	Path    string `json:"fieldPath"`
	Message string `json:"message"`
	Rule    string `json:"violatedRule"`
}

// ValidationError aggregates all field violations found while resolving
// a parameter set. It is returned before any run is created.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "invalid parameters"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Path, f.Message))
	}
	return "invalid parameters: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(path, rule, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{
		Path:    path,
		Message: fmt.Sprintf(format, args...),
		Rule:    rule,
	})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
