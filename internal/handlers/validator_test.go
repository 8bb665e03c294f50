package handlers

import (
	"errors"
	"testing"
)

func TestValidator_CompilesEverySchema(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	for _, name := range []string{
		"sponsor_lock", "sponsor_capture", "tree_build", "commission_distribute",
		"ledger_apply", "admin_rebuild", "admin_level_reward", "admin_backfill", "admin_badge",
	} {
		if _, ok := v.schemas[name]; !ok {
			t.Errorf("schema %q not loaded", name)
		}
	}
}

func TestValidator_Validate(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	tests := []struct {
		name   string
		schema string
		body   string
		ok     bool
	}{
		{"lock ok", "sponsor_lock", `{"user_id":"6f1c2b8e-4a1d-4c55-9a7e-0d9f0b1e2c3d","referral":"ABC"}`, true},
		{"lock bad uuid", "sponsor_lock", `{"user_id":"nope"}`, false},
		{"lock unknown field", "sponsor_lock", `{"user_id":"6f1c2b8e-4a1d-4c55-9a7e-0d9f0b1e2c3d","extra":1}`, false},
		{"distribute numeric base", "commission_distribute", `{"event_type":"signup","event_id":"e1","payer_id":"6f1c2b8e-4a1d-4c55-9a7e-0d9f0b1e2c3d","base_amount":12.5}`, true},
		{"distribute missing payer", "commission_distribute", `{"event_type":"signup","event_id":"e1"}`, false},
		{"rebuild concurrency too high", "admin_rebuild", `{"concurrency":1000}`, false},
		{"badge unknown tier", "admin_badge", `{"badge":"bronze"}`, false},
		{"not json", "tree_build", `{`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.schema, []byte(tt.body))
			if tt.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestValidator_UnknownSchema(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if err := v.Validate("missing", []byte(`{}`)); err == nil || errors.Is(err, ErrValidation) {
		t.Fatalf("expected non-validation error for unknown schema, got %v", err)
	}
}
