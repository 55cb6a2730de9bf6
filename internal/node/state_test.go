package node

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrInitState_CreatesAndReloads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "node.json")

	st, err := LoadOrInitState(path)
	if err != nil {
		t.Fatalf("LoadOrInitState: %v", err)
	}
	if st.NodeID == "" {
		t.Fatal("fresh state has empty nodeId")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("state file not persisted: %v", err)
	}

	st.Token = "tok-123"
	if err := st.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	again, err := LoadOrInitState(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.NodeID != st.NodeID {
		t.Errorf("nodeId changed across restart: %q != %q", again.NodeID, st.NodeID)
	}
	if again.Token != "tok-123" {
		t.Errorf("token = %q, want tok-123", again.Token)
	}
}

func TestLoadOrInitState_RejectsCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "node.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadOrInitState(path); err == nil {
		t.Fatal("expected parse error for corrupt state")
	}
}

func TestSanitizeID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"My-MacBook.local", "my-macbook-local"},
		{"host_01", "host-01"},
		{"--weird--", "weird"},
		{"ABC  123", "abc-123"},
	}
	for _, tt := range tests {
		if got := sanitizeID(tt.in); got != tt.want {
			t.Errorf("sanitizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
