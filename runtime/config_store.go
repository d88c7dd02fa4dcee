package runtime

import (
	"sync"

	"github.com/FreeTAKTeam/lxmf-go/sdkerr"
)

// allowedConfigKeys are the only top-level keys configure's patch may touch.
var allowedConfigKeys = map[string]bool{
	"overflow_policy":    true,
	"block_timeout_ms":   true,
	"event_stream":       true,
	"idempotency_ttl_ms": true,
	"redaction":          true,
	"rpc_backend":        true,
	"extensions":         true,
}

// ConfigUpdateFunc is invoked after a successful configure, typically wired
// to an event log's Publish.
type ConfigUpdateFunc func(revision int64, patch map[string]any)

// ConfigStore holds the current config, its revision, and the capability set
// negotiated at start. All mutation goes through a single apply lock
// (sdk_config_apply_lock) to preserve compare-and-swap semantics.
type ConfigStore struct {
	applyMu sync.Mutex

	revision     int64
	config       map[string]any
	capabilities map[string]bool

	OnUpdate ConfigUpdateFunc
}

// NewConfigStore creates a config store starting at revision 0 with the
// given negotiated capability set.
func NewConfigStore(capabilities map[string]bool) *ConfigStore {
	return &ConfigStore{
		config:       make(map[string]any),
		capabilities: capabilities,
	}
}

// Has reports whether capabilityID is in the negotiated effective set.
func (cs *ConfigStore) Has(capabilityID string) bool {
	cs.applyMu.Lock()
	defer cs.applyMu.Unlock()
	return cs.capabilities[capabilityID]
}

// Revision returns the current config revision.
func (cs *ConfigStore) Revision() int64 {
	cs.applyMu.Lock()
	defer cs.applyMu.Unlock()
	return cs.revision
}

// Configure applies patch under CAS on expectedRevision. On success it
// returns the new revision; on conflict it returns CONFIG_CONFLICT and
// leaves the store untouched.
func (cs *ConfigStore) Configure(expectedRevision int64, patch map[string]any) (int64, error) {
	cs.applyMu.Lock()
	defer cs.applyMu.Unlock()

	if expectedRevision != cs.revision {
		return cs.revision, sdkerr.New(sdkerr.ConfigConflict, "expected_revision does not match current revision", map[string]any{
			"expected_revision": expectedRevision,
			"current_revision":  cs.revision,
		})
	}

	for key := range patch {
		if !allowedConfigKeys[key] {
			return cs.revision, sdkerr.New(sdkerr.ConfigUnknownKey, "unknown config key "+key, map[string]any{"key": key})
		}
	}

	cs.config = mergePatch(cs.config, patch)
	cs.revision++

	if cs.OnUpdate != nil {
		cs.OnUpdate(cs.revision, patch)
	}

	return cs.revision, nil
}

// Snapshot returns a shallow copy of the current config tree.
func (cs *ConfigStore) Snapshot() map[string]any {
	cs.applyMu.Lock()
	defer cs.applyMu.Unlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// mergePatch recursively merges patch into base; a null value at any level
// removes the corresponding key from base.
func mergePatch(base map[string]any, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		if patchObj, ok := v.(map[string]any); ok {
			baseObj, _ := out[k].(map[string]any)
			out[k] = mergePatch(baseObj, patchObj)
			continue
		}
		out[k] = v
	}
	return out
}
