package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/JadKHaddad-ORG/JobHub/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"SubscriptionID", id.NewSubscriptionID, "sub_"},
		{"SessionID", id.NewSessionID, "sess_"},
		{"FrameID", id.NewFrameID, "frm_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseJobID(t *testing.T) {
	original := id.NewJobID()
	parsed, err := id.ParseJobID(original.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !parsed.Equal(original) {
		t.Errorf("round-trip mismatch: %q != %q", parsed, original)
	}

	if _, err := id.ParseJobID(id.NewSubscriptionID().String()); err == nil {
		t.Error("expected prefix mismatch error")
	}
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
	if _, err := id.Parse("not an id"); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestNilID(t *testing.T) {
	var n id.ID
	if !n.IsNil() {
		t.Fatal("zero value should be nil")
	}
	if n.String() != "" {
		t.Errorf("expected empty string, got %q", n.String())
	}
	v, err := n.Value()
	if err != nil || v != nil {
		t.Errorf("expected NULL value, got %v (%v)", v, err)
	}
}

func TestJSONAndScan(t *testing.T) {
	type wrapper struct {
		ID      id.JobID `json:"id"`
		RetryOf id.JobID `json:"retry_of"`
	}

	w := wrapper{ID: id.NewJobID()}
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back wrapper
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.ID.Equal(w.ID) || !back.RetryOf.IsNil() {
		t.Errorf("unexpected decode: %+v", back)
	}

	var scanned id.ID
	if err := scanned.Scan([]byte(w.ID.String())); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !scanned.Equal(w.ID) {
		t.Errorf("scan mismatch: %q", scanned)
	}
	if err := scanned.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}
