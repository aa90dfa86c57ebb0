package params

import (
	"fmt"
	"strings"
)

// Kind enumerates supported field types.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindEnum   Kind = "enum"
	// KindGroup nests a set of sub-fields under one key. Groups may be gated
	// by a sibling bool field (EnabledBy), e.g. a "custom date range" toggle.
	KindGroup Kind = "group"
)

// Field describes one parameter of a pipeline schema.
type Field struct {
	Name        string
	Kind        Kind
	Description string

	Required bool
	Default  any

	// Numeric bounds, inclusive. Only consulted for int/float fields.
	Min *float64
	Max *float64

	// Enum members. Only consulted for enum fields.
	Enum []string

	// Group members. Only consulted for group fields.
	Fields []Field

	// EnabledBy names a sibling bool field that gates this field. When the
	// gating field resolves to false the field is skipped entirely: not
	// validated, absent from the resolved set.
	EnabledBy string
}

// Schema is the declared parameter schema of a pipeline.
// A nil *Schema means the pipeline takes no parameters.
type Schema struct {
	Fields []Field
}

// Values holds a parameter set. Group fields nest as Values/map[string]any.
type Values map[string]any

// Bounds is a convenience for building Min/Max pointers inline.
func Bounds(min, max float64) (*float64, *float64) { return &min, &max }

// FloatPtr returns a pointer to v, for one-sided bounds.
func FloatPtr(v float64) *float64 { return &v }

// Validate checks the schema definition itself. Called once at pipeline
// registration; a broken schema is a programming error.
func (s *Schema) Validate() error {
	if s == nil {
		return nil
	}
	return validateFields(s.Fields, "")
}

func validateFields(fields []Field, prefix string) error {
	seen := map[string]bool{}
	names := map[string]Kind{}
	for _, f := range fields {
		names[f.Name] = f.Kind
	}
	for _, f := range fields {
		path := joinPath(prefix, f.Name)
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("schema field with empty name under %q", prefix)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate schema field %q", path)
		}
		seen[f.Name] = true

		switch f.Kind {
		case KindString, KindInt, KindFloat, KindBool:
		case KindEnum:
			if len(f.Enum) == 0 {
				return fmt.Errorf("enum field %q has no members", path)
			}
		case KindGroup:
			if len(f.Fields) == 0 {
				return fmt.Errorf("group field %q has no sub-fields", path)
			}
			if err := validateFields(f.Fields, path); err != nil {
				return err
			}
		default:
			return fmt.Errorf("field %q has unknown kind %q", path, f.Kind)
		}

		if f.EnabledBy != "" {
			k, ok := names[f.EnabledBy]
			if !ok {
				return fmt.Errorf("field %q gated by unknown sibling %q", path, f.EnabledBy)
			}
			if k != KindBool {
				return fmt.Errorf("field %q gated by non-bool sibling %q", path, f.EnabledBy)
			}
		}

		if f.Default != nil {
			if _, err := coerce(f, f.Default); err != nil {
				return fmt.Errorf("field %q default: %v", path, err)
			}
		}
	}
	return nil
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
