package jobs

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestSteps_AlwaysSerializesFourKeys(t *testing.T) {
	b, err := json.Marshal(NewSteps())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(m) != 4 {
		t.Fatalf("expected 4 keys, got %v", m)
	}
	for _, step := range AllSteps {
		if m[string(step)] != string(StepPending) {
			t.Fatalf("step %s = %q", step, m[string(step)])
		}
	}
}

func TestSteps_NormalizeFillsMissing(t *testing.T) {
	var s Steps
	if err := json.Unmarshal([]byte(`{"article":"completed"}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	s.normalize()
	if s.Article != StepCompleted || s.Image != StepPending || s.WordPress != StepPending || s.Pins != StepPending {
		t.Fatalf("normalize mismatch: %+v", s)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSteps_Settled(t *testing.T) {
	s := NewSteps()
	if s.Settled() {
		t.Fatalf("pending steps are not settled")
	}
	_ = s.Set(StepArticle, StepCompleted)
	_ = s.Set(StepImage, StepFailed)
	_ = s.Set(StepWordPress, StepSkipped)
	if s.Settled() {
		t.Fatalf("pins still pending")
	}
	_ = s.Set(StepPins, StepCompleted)
	if !s.Settled() {
		t.Fatalf("all steps have outcomes: %+v", s)
	}
	if err := s.Set(Step("x"), StepCompleted); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("Set unknown step err = %v", err)
	}
}
