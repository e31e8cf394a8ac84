package registry

import (
	"testing"
)

func TestNewModelRegistry_SkipsInvalidEntries(t *testing.T) {
	tests := []struct {
		name    string
		models  []*ModelInfo
		wantLen int
	}{
		{
			name: "single model",
			models: []*ModelInfo{
				{ID: "solo-1", OwnedBy: "monoturn"},
			},
			wantLen: 1,
		},
		{
			name: "nil entries skipped",
			models: []*ModelInfo{
				{ID: "solo-1", OwnedBy: "monoturn"},
				nil,
				{ID: "solo-1-mini", OwnedBy: "monoturn"},
			},
			wantLen: 2,
		},
		{
			name: "empty id skipped",
			models: []*ModelInfo{
				{ID: "", OwnedBy: "monoturn"},
				{ID: "solo-1", OwnedBy: "monoturn"},
			},
			wantLen: 1,
		},
		{
			name:    "empty list",
			models:  []*ModelInfo{},
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewModelRegistry(tt.models)
			if r.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", r.Len(), tt.wantLen)
			}
		})
	}
}

func TestModelRegistry_LookupReturnsCopy(t *testing.T) {
	r := NewModelRegistry(DefaultModels())
	m := r.Lookup("solo-1")
	if m == nil {
		t.Fatal("expected solo-1 to be registered")
	}
	m.DisplayName = "mutated"
	if again := r.Lookup("solo-1"); again.DisplayName == "mutated" {
		t.Error("Lookup must not expose internal state")
	}
	if r.Lookup("unknown") != nil {
		t.Error("expected nil for unknown model")
	}
}

func TestModelRegistry_ListSorted(t *testing.T) {
	r := NewModelRegistry([]*ModelInfo{
		{ID: "zeta"},
		{ID: "alpha"},
		{ID: "mid"},
	})
	out := r.List()
	if len(out) != 3 {
		t.Fatalf("List() returned %d models, want 3", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i-1].ID >= out[i].ID {
			t.Errorf("List() not sorted: %q before %q", out[i-1].ID, out[i].ID)
		}
	}
}

func TestModelRegistry_ReplaceDefaultsObject(t *testing.T) {
	r := NewModelRegistry(nil)
	r.Replace([]*ModelInfo{{ID: "solo-1"}})
	m := r.Lookup("solo-1")
	if m == nil || m.Object != "model" {
		t.Fatalf("expected object to default to %q, got %+v", "model", m)
	}
}

func TestParseCatalog(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantIDs []string
		wantErr bool
	}{
		{
			name:    "openai listing",
			payload: `{"object":"list","data":[{"id":"solo-1","owned_by":"monoturn"},{"id":"solo-1-mini"}]}`,
			wantIDs: []string{"solo-1", "solo-1-mini"},
		},
		{
			name:    "bare array",
			payload: `[{"id":"solo-1"}]`,
			wantIDs: []string{"solo-1"},
		},
		{
			name:    "entries without id dropped",
			payload: `{"data":[{"owned_by":"monoturn"},{"id":"solo-1"}]}`,
			wantIDs: []string{"solo-1"},
		},
		{
			name:    "no array",
			payload: `{"object":"list"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models, err := parseCatalog([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCatalog: %v", err)
			}
			if len(models) != len(tt.wantIDs) {
				t.Fatalf("got %d models, want %d", len(models), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if models[i].ID != id {
					t.Errorf("model %d = %q, want %q", i, models[i].ID, id)
				}
			}
		})
	}
}
