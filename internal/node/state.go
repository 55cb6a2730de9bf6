package node

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// NodeState is the node's durable identity, persisted as JSON. The token is
// written back after a successful pairing so reconnects authenticate
// without re-pairing.
type NodeState struct {
	NodeID      string `json:"nodeId"`
	DisplayName string `json:"displayName,omitempty"`
	Token       string `json:"token,omitempty"`
}

// DefaultStatePath returns the conventional node state file location.
func DefaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".clawdis", "node.json")
}

// LoadOrInitState reads the state file at path, deriving a fresh identity
// when the file does not exist. A freshly derived state is persisted
// immediately so the node id stays stable across restarts.
func LoadOrInitState(path string) (*NodeState, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var st NodeState
		if jerr := json.Unmarshal(data, &st); jerr != nil {
			return nil, fmt.Errorf("node: parse state %s: %w", path, jerr)
		}
		if st.NodeID == "" {
			st.NodeID = DeriveNodeID()
		}
		if st.DisplayName == "" {
			st.DisplayName = DefaultDisplayName()
		}
		return &st, nil
	case os.IsNotExist(err):
		st := &NodeState{
			NodeID:      DeriveNodeID(),
			DisplayName: DefaultDisplayName(),
		}
		if serr := st.Save(path); serr != nil {
			return nil, serr
		}
		return st, nil
	default:
		return nil, fmt.Errorf("node: read state %s: %w", path, err)
	}
}

// Save writes the state file atomically via a temp file rename.
func (st *NodeState) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("node: create state dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("node: encode state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("node: write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("node: replace state: %w", err)
	}
	return nil
}

// DeriveNodeID builds a stable node id from the hostname and, when
// available, the machine id.
func DeriveNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	id := sanitizeID(host)
	if mid := machineID(); mid != "" {
		if len(mid) > 12 {
			mid = mid[:12]
		}
		id += "-" + mid
	}
	return id
}

// DefaultDisplayName is the hostname's first label, title-shaped for UIs.
func DefaultDisplayName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "Node"
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host
}

func machineID() string {
	paths := []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}
	if runtime.GOOS == "darwin" {
		// No flat machine-id file on macOS; the hostname has to carry it.
		return ""
	}
	for _, p := range paths {
		if data, err := os.ReadFile(p); err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return sanitizeID(id)
			}
		}
	}
	return ""
}

// sanitizeID lowercases and keeps [a-z0-9-], squeezing anything else to '-'.
func sanitizeID(s string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(s) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		switch {
		case ok:
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
