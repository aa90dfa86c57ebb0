package params

import (
	"errors"
	"testing"
)

func feedSchema() *Schema {
	min, max := Bounds(1, 32)
	return &Schema{Fields: []Field{
		{Name: "region", Kind: KindEnum, Enum: []string{"Perth", "Sydney", "Melbourne"}, Default: "Perth"},
		{Name: "concurrency", Kind: KindInt, Min: min, Max: max, Default: 16},
		{Name: "delay", Kind: KindFloat, Min: FloatPtr(0.5), Default: 2.0},
		{Name: "post_process", Kind: KindBool, Default: true},
		{Name: "use_date_range", Kind: KindBool, Default: false},
		{Name: "date_range", Kind: KindGroup, EnabledBy: "use_date_range", Fields: []Field{
			{Name: "start", Kind: KindString, Required: true},
			{Name: "end", Kind: KindString, Required: true},
		}},
	}}
}

func TestResolveTierPriority(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		trigger Values
		manual  Values
		field   string
		want    any
	}{
		{name: "default only", field: "region", want: "Perth"},
		{name: "trigger beats default", trigger: Values{"region": "Sydney"}, field: "region", want: "Sydney"},
		{name: "manual beats trigger", trigger: Values{"region": "Sydney"}, manual: Values{"region": "Melbourne"}, field: "region", want: "Melbourne"},
		{name: "empty manual falls through", trigger: Values{"concurrency": 8}, manual: Values{}, field: "concurrency", want: int64(8)},
		{name: "explicit falsy manual wins", trigger: Values{"post_process": true}, manual: Values{"post_process": false}, field: "post_process", want: false},
		{name: "explicit zero-ish trigger wins", trigger: Values{"delay": 0.5}, field: "delay", want: 0.5},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(feedSchema(), tt.trigger, tt.manual)
			if err != nil {
				t.Fatalf("Resolve error: %v", err)
			}
			if got[tt.field] != tt.want {
				t.Fatalf("%s = %v (%T), want %v (%T)", tt.field, got[tt.field], got[tt.field], tt.want, tt.want)
			}
		})
	}
}

func TestResolveValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		manual Values
		path   string
		rule   string
	}{
		{name: "below min", manual: Values{"concurrency": 0}, path: "concurrency", rule: RuleMin},
		{name: "above max", manual: Values{"concurrency": 64}, path: "concurrency", rule: RuleMax},
		{name: "bad enum", manual: Values{"region": "Darwin-ish"}, path: "region", rule: RuleEnum},
		{name: "bad type", manual: Values{"delay": "fast"}, path: "delay", rule: RuleType},
		{name: "fractional int", manual: Values{"concurrency": 2.5}, path: "concurrency", rule: RuleType},
		{name: "unknown field", manual: Values{"regiom": "Perth"}, path: "regiom", rule: RuleUnknown},
		{name: "missing nested required", manual: Values{"use_date_range": true, "date_range": Values{"start": "2026-01-01"}}, path: "date_range.end", rule: RuleRequired},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(feedSchema(), nil, tt.manual)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, fe := range verr.Fields {
				if fe.Path == tt.path && fe.Rule == tt.rule {
					found = true
				}
			}
			if !found {
				t.Fatalf("no %s violation for %s in %+v", tt.rule, tt.path, verr.Fields)
			}
		})
	}
}

func TestResolveGatedGroup(t *testing.T) {
	t.Parallel()

	// Toggle off: group absent, sub-fields not validated.
	got, err := Resolve(feedSchema(), nil, Values{"use_date_range": false})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if _, ok := got["date_range"]; ok {
		t.Fatalf("date_range present despite toggle off: %v", got)
	}

	// Toggle on with complete sub-fields: group resolved.
	got, err = Resolve(feedSchema(), nil, Values{
		"use_date_range": true,
		"date_range":     Values{"start": "2026-01-01", "end": "2026-02-01"},
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	dr, ok := got["date_range"].(Values)
	if !ok {
		t.Fatalf("date_range missing or wrong type: %v", got)
	}
	if dr["start"] != "2026-01-01" || dr["end"] != "2026-02-01" {
		t.Fatalf("unexpected date_range: %v", dr)
	}

	// Toggle may come from the trigger tier.
	got, err = Resolve(feedSchema(), Values{"use_date_range": true, "date_range": Values{"start": "a", "end": "b"}}, nil)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if _, ok := got["date_range"]; !ok {
		t.Fatal("date_range missing when toggled on by trigger tier")
	}
}

func TestResolveNoSchema(t *testing.T) {
	t.Parallel()

	got, err := Resolve(nil, nil, nil)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty values, got %v", got)
	}

	if _, err := Resolve(nil, nil, Values{"x": 1}); err == nil {
		t.Fatal("expected error for params against empty schema")
	}
}

func TestSchemaValidate(t *testing.T) {
	t.Parallel()

	if err := feedSchema().Validate(); err != nil {
		t.Fatalf("valid schema rejected: %v", err)
	}

	bad := &Schema{Fields: []Field{{Name: "mode", Kind: KindEnum}}}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for enum without members")
	}

	gate := &Schema{Fields: []Field{
		{Name: "window", Kind: KindGroup, EnabledBy: "missing", Fields: []Field{{Name: "n", Kind: KindInt}}},
	}}
	if err := gate.Validate(); err == nil {
		t.Fatal("expected error for unknown gating sibling")
	}
}
