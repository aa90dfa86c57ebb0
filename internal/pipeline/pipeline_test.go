package pipeline

import (
	"context"
	"sync"
	"testing"

	"conveyor/internal/params"
	logx "conveyor/pkg/logx"
)

func okTask(id string) Task {
	return Task{ID: id, Run: func(ctx context.Context, tc *TaskContext) (any, error) { return nil, nil }}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		p    *Pipeline
	}{
		{"empty id", &Pipeline{Tasks: []Task{okTask("a")}}},
		{"no tasks", &Pipeline{ID: "p"}},
		{"nil run", &Pipeline{ID: "p", Tasks: []Task{{ID: "a"}}}},
		{"dup task", &Pipeline{ID: "p", Tasks: []Task{okTask("a"), okTask("a")}}},
		{"trigger without schedule", &Pipeline{ID: "p", Tasks: []Task{okTask("a")}, Triggers: []Trigger{{ID: "t"}}}},
		{"dup trigger", &Pipeline{ID: "p", Tasks: []Task{okTask("a")},
			Triggers: []Trigger{{ID: "t", Schedule: "@hourly"}, {ID: "t", Schedule: "@daily"}}}},
		{"bad schema", &Pipeline{ID: "p", Tasks: []Task{okTask("a")},
			Params: &params.Schema{Fields: []params.Field{{Name: "e", Kind: params.KindEnum}}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry(logx.Nop(), nil)
			if err := r.Register(tc.p); err == nil {
				t.Fatal("expected registration error")
			}
		})
	}
}

func TestRegisterAndLookup(t *testing.T) {
	t.Parallel()
	r := NewRegistry(logx.Nop(), nil)
	p := &Pipeline{
		ID:       "feed",
		Tasks:    []Task{okTask("fetch"), okTask("report")},
		Triggers: []Trigger{{ID: "nightly", Schedule: "0 2 * * *"}},
	}
	if err := r.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(p); err == nil {
		t.Fatal("duplicate registration accepted")
	}

	if got := r.Get("feed"); got != p {
		t.Fatal("Get returned wrong pipeline")
	}
	if got := r.Get("nope"); got != nil {
		t.Fatal("Get for unknown id returned a pipeline")
	}
	if p.Trigger("nightly") == nil || p.Trigger("weekly") != nil {
		t.Fatal("trigger lookup broken")
	}
	if p.Task("fetch") == nil || p.Task("nope") != nil {
		t.Fatal("task lookup broken")
	}
	if !r.ScheduleEnabled("feed") {
		t.Fatal("new pipeline not schedule-enabled by default")
	}
}

type memState struct {
	mu    sync.Mutex
	flags map[string]bool
}

func (m *memState) LoadScheduleState(context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for k, v := range m.flags {
		out[k] = v
	}
	return out, nil
}

func (m *memState) SaveScheduleState(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[id] = enabled
	return nil
}

func TestScheduleTogglePersistsAndNotifies(t *testing.T) {
	t.Parallel()
	state := &memState{flags: map[string]bool{}}
	r := NewRegistry(logx.Nop(), state)

	var toggles []bool
	r.OnScheduleToggle(func(id string, enabled bool) {
		if id == "feed" {
			toggles = append(toggles, enabled)
		}
	})

	p := &Pipeline{ID: "feed", Tasks: []Task{okTask("fetch")}}
	if err := r.Register(p); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctx := context.Background()

	if _, err := r.SetScheduleEnabled(ctx, "feed", false); err != nil {
		t.Fatalf("SetScheduleEnabled: %v", err)
	}
	// Setting the same value again is a no-op: no persist, no callback.
	if _, err := r.SetScheduleEnabled(ctx, "feed", false); err != nil {
		t.Fatalf("SetScheduleEnabled repeat: %v", err)
	}
	if _, err := r.SetScheduleEnabled(ctx, "nope", true); err == nil {
		t.Fatal("expected error for unknown pipeline")
	}

	if len(toggles) != 1 || toggles[0] {
		t.Fatalf("toggles = %v", toggles)
	}
	if en, ok := state.flags["feed"]; !ok || en {
		t.Fatalf("persisted flags = %v", state.flags)
	}

	// A fresh registry with the same persister restores the flag.
	r2 := NewRegistry(logx.Nop(), state)
	if err := r2.Register(&Pipeline{ID: "feed", Tasks: []Task{okTask("fetch")}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r2.LoadState(ctx); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if r2.ScheduleEnabled("feed") {
		t.Fatal("persisted disable not restored")
	}
}
