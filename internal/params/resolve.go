package params

import (
	"fmt"
	"math"
)

// Resolve merges the three parameter tiers for one run and validates the
// result against the schema.
//
// trigger and manual may be nil (trigger-less manual run, or a trigger fire
// with no manual overrides). On success the returned Values contains exactly
// the schema's fields that resolved to a value; gated-off groups are absent.
//
// On violation it returns a *ValidationError listing every offending field.
func Resolve(schema *Schema, trigger, manual Values) (Values, error) {
	if schema == nil || len(schema.Fields) == 0 {
		// No declared schema: only an empty parameter set is acceptable.
		verr := &ValidationError{}
		for k := range manual {
			verr.add(k, RuleUnknown, "pipeline declares no parameters")
		}
		if err := verr.orNil(); err != nil {
			return nil, err
		}
		return Values{}, nil
	}

	verr := &ValidationError{}
	out := resolveFields(schema.Fields, "", trigger, manual, verr)
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return out, nil
}

func resolveFields(fields []Field, prefix string, trigger, manual Values, verr *ValidationError) Values {
	known := map[string]Field{}
	for _, f := range fields {
		known[f.Name] = f
	}
	// Reject stray keys so typos fail loudly instead of silently falling
	// back to defaults.
	for k := range manual {
		if _, ok := known[k]; !ok {
			verr.add(joinPath(prefix, k), RuleUnknown, "unknown field")
		}
	}

	out := Values{}

	// Bools first so gating toggles are settled before anything they gate.
	for _, f := range fields {
		if f.Kind == KindBool {
			resolveOne(f, prefix, trigger, manual, out, verr)
		}
	}
	for _, f := range fields {
		if f.Kind == KindGroup || f.Kind == KindBool {
			continue
		}
		resolveOne(f, prefix, trigger, manual, out, verr)
	}
	for _, f := range fields {
		if f.Kind != KindGroup {
			continue
		}
		if f.EnabledBy != "" {
			on, _ := out[f.EnabledBy].(bool)
			if !on {
				continue
			}
		}
		sub := resolveFields(f.Fields, joinPath(prefix, f.Name), subValues(trigger, f.Name), subValues(manual, f.Name), verr)
		if len(sub) > 0 || f.Required {
			out[f.Name] = sub
		}
	}
	return out
}

func resolveOne(f Field, prefix string, trigger, manual, out Values, verr *ValidationError) {
	path := joinPath(prefix, f.Name)

	if f.EnabledBy != "" {
		// Gated scalar: only meaningful when its sibling toggle resolved
		// true. Toggles are plain bools, resolved earlier in the pass.
		if on, _ := out[f.EnabledBy].(bool); !on {
			return
		}
	}

	raw, tier := pick(f, trigger, manual)
	if tier == tierNone {
		if f.Required {
			verr.add(path, RuleRequired, "required field is missing")
		}
		return
	}

	v, err := coerce(f, raw)
	if err != nil {
		verr.add(path, RuleType, "%v", err)
		return
	}

	switch f.Kind {
	case KindInt, KindFloat:
		n := asFloat(v)
		if f.Min != nil && n < *f.Min {
			verr.add(path, RuleMin, "value %v below minimum %v", v, *f.Min)
			return
		}
		if f.Max != nil && n > *f.Max {
			verr.add(path, RuleMax, "value %v above maximum %v", v, *f.Max)
			return
		}
	case KindEnum:
		s := v.(string)
		ok := false
		for _, m := range f.Enum {
			if m == s {
				ok = true
				break
			}
		}
		if !ok {
			verr.add(path, RuleEnum, "value %q not in %v", s, f.Enum)
			return
		}
	}

	out[f.Name] = v
}

type tier int

const (
	tierNone tier = iota
	tierDefault
	tierTrigger
	tierManual
)

// pick returns the highest-priority tier that explicitly defines the field.
// Presence is key existence, so explicit zero values win over lower tiers.
func pick(f Field, trigger, manual Values) (any, tier) {
	if manual != nil {
		if v, ok := manual[f.Name]; ok {
			return v, tierManual
		}
	}
	if trigger != nil {
		if v, ok := trigger[f.Name]; ok {
			return v, tierTrigger
		}
	}
	if f.Default != nil {
		return f.Default, tierDefault
	}
	return nil, tierNone
}

func subValues(v Values, key string) Values {
	if v == nil {
		return nil
	}
	switch m := v[key].(type) {
	case Values:
		return m
	case map[string]any:
		return Values(m)
	default:
		return nil
	}
}

// coerce normalizes raw into the field's canonical Go type.
// JSON decoding hands us float64 for all numbers, so integral floats are
// accepted for int fields.
func coerce(f Field, raw any) (any, error) {
	switch f.Kind {
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return s, nil
	case KindEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return s, nil
	case KindBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", raw)
		}
		return b, nil
	case KindInt:
		switch n := raw.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("expected integer, got %v", n)
			}
			return int64(n), nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", raw)
		}
	case KindFloat:
		switch n := raw.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		default:
			return nil, fmt.Errorf("expected number, got %T", raw)
		}
	case KindGroup:
		switch raw.(type) {
		case Values, map[string]any:
			return raw, nil
		default:
			return nil, fmt.Errorf("expected object, got %T", raw)
		}
	default:
		return nil, fmt.Errorf("unknown kind %q", f.Kind)
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
