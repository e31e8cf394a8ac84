package util

import (
	"strings"
	"testing"
)

func TestMaskSensitiveQuery(t *testing.T) {
	masked := MaskSensitiveQuery("model=solo-1&api_key=sk-abc123")
	if strings.Contains(masked, "sk-abc123") {
		t.Fatalf("api key must be masked, got %q", masked)
	}
	if !strings.Contains(masked, "model=solo-1") {
		t.Fatalf("benign parameters must survive, got %q", masked)
	}
	if got := MaskSensitiveQuery("model=solo-1"); got != "model=solo-1" {
		t.Fatalf("query without secrets must be unchanged, got %q", got)
	}
}

func TestRedactSensitiveJSON(t *testing.T) {
	out := RedactSensitiveJSON([]byte(`{"model":"solo-1","api_key":"sk-abc","nested":{"token":"t1"}}`))
	s := string(out)
	if strings.Contains(s, "sk-abc") || strings.Contains(s, "t1") {
		t.Fatalf("secrets must be redacted, got %s", s)
	}
	if !strings.Contains(s, `"model":"solo-1"`) {
		t.Fatalf("benign fields must survive, got %s", s)
	}
}

func TestRedactSensitiveJSONPassesThroughInvalidInput(t *testing.T) {
	in := []byte("not json")
	if out := RedactSensitiveJSON(in); string(out) != "not json" {
		t.Fatalf("invalid json must pass through, got %q", out)
	}
}
