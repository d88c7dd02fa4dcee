package memnet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// dutyCycleStateVersion is bumped whenever the persisted shape changes;
// a mismatch is treated as corruption, not migrated.
const dutyCycleStateVersion = 1

// clockRollbackThreshold is how far into the future a persisted
// last_updated_unix_ms may sit relative to now before it's untrusted.
const clockRollbackThreshold = 5 * time.Minute

// DutyCycleState is the demonstration of the fail-closed persisted-state
// rule the specification requires of a radio duty-cycle regulator; no real
// duty-cycle enforcement is wired to it in this in-process transport.
type DutyCycleState struct {
	Version           int    `json:"version"`
	DutyCycleDebtMs   int64  `json:"duty_cycle_debt_ms"`
	LastUpdatedUnixMs int64  `json:"last_updated_unix_ms"`
	Uncertain         bool   `json:"uncertain"`
	UncertaintyReason string `json:"uncertainty_reason,omitempty"`
}

// LoadDutyCycleState reads path, failing closed (an Uncertain zero-debt
// state, never an empty/trusting one) on version mismatch, corruption, or
// an implausible clock rollback.
func LoadDutyCycleState(path string, now time.Time) (DutyCycleState, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DutyCycleState{Version: dutyCycleStateVersion, LastUpdatedUnixMs: now.UnixMilli()}, nil
	}
	if err != nil {
		return failClosed("read error: " + err.Error()), nil
	}

	var st DutyCycleState
	if err := json.Unmarshal(raw, &st); err != nil {
		return failClosed("corrupt state file: " + err.Error()), nil
	}
	if st.Version != dutyCycleStateVersion {
		return failClosed(fmt.Sprintf("version mismatch: got %d want %d", st.Version, dutyCycleStateVersion)), nil
	}
	if st.LastUpdatedUnixMs > now.Add(clockRollbackThreshold).UnixMilli() {
		return failClosed("persisted timestamp is implausibly far in the future"), nil
	}
	return st, nil
}

func failClosed(reason string) DutyCycleState {
	return DutyCycleState{
		Version:           dutyCycleStateVersion,
		DutyCycleDebtMs:   0,
		Uncertain:         true,
		UncertaintyReason: reason,
	}
}

// SaveDutyCycleState persists st atomically via tmp+rename.
func SaveDutyCycleState(path string, st DutyCycleState) error {
	dir := filepath.Dir(path)
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("memnet: marshal duty cycle state: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".duty-cycle-*.tmp")
	if err != nil {
		return fmt.Errorf("memnet: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("memnet: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("memnet: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("memnet: rename into place: %w", err)
	}
	return nil
}
