package runtime

import (
	"reflect"
	"sync"

	"github.com/FreeTAKTeam/lxmf-go/sdkerr"
	"github.com/google/uuid"
)

// State is a lifecycle stage of a runtime instance.
type State string

const (
	StateNew      State = "new"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// ShutdownMode selects how shutdown drains in-flight work.
type ShutdownMode string

const (
	ShutdownGraceful ShutdownMode = "graceful"
	ShutdownImmediate ShutdownMode = "immediate"
)

// SdkConfig is the caller-supplied configuration negotiated at start.
type SdkConfig struct {
	Profile           Profile
	BindMode          string
	AuthMode          string
	OverflowPolicy    string
	EventStreamLimits map[string]int
	IdempotencyTTLMs  int64
	Redaction         map[string]any
	RPCBackend        string
	Extensions        map[string]any
}

// StartRequest is the input to start(req).
type StartRequest struct {
	SupportedContractVersions []int
	RequestedCapabilities     []string
	Config                    SdkConfig
}

// Equal reports whether two start requests are identical, used to decide
// whether a start() call against a Running runtime is an idempotent re-start.
func (r StartRequest) Equal(other StartRequest) bool {
	return reflect.DeepEqual(r, other)
}

// Handle is what start(req) returns on success.
type Handle struct {
	RuntimeID             string
	ActiveContractVersion int
	EffectiveCapabilities map[string]bool
	EffectiveLimits       Limits
	ContractRelease       string
	SchemaNamespace       string
}

// supportedContractVersions are the versions this runtime build understands.
var supportedContractVersions = []int{1}

// methodLegalStates enumerates the states each gated method may run in.
var methodLegalStates = map[string]map[State]bool{
	"send":           {StateRunning: true},
	"configure":      {StateRunning: true},
	"cancel":         {StateRunning: true, StateDraining: true},
	"status":         {StateRunning: true, StateDraining: true},
	"tick":           {StateRunning: true, StateDraining: true},
	"poll_events":    {StateRunning: true, StateDraining: true},
	"snapshot":       {StateRunning: true, StateDraining: true},
	"subscribe_events": {StateRunning: true, StateDraining: true},
	"shutdown":       {StateStarting: true, StateRunning: true, StateDraining: true, StateStopped: true, StateFailed: true},
}

// Runtime is the root lifecycle and negotiation owner for one SDK instance.
type Runtime struct {
	mu sync.Mutex

	id            string
	state         State
	activeRequest *StartRequest
	handle        *Handle

	ConfigStore *ConfigStore
}

// New constructs an unstarted runtime.
func New() *Runtime {
	return &Runtime{
		id:    uuid.NewString(),
		state: StateNew,
	}
}

// MethodLegal reports whether method may run while the runtime is in state.
func MethodLegal(method string, state State) bool {
	legal, ok := methodLegalStates[method]
	if !ok {
		return false
	}
	return legal[state]
}

// CheckMethodLegal returns RUNTIME_INVALID_STATE when method isn't legal in
// the runtime's current state.
func (rt *Runtime) CheckMethodLegal(method string) error {
	rt.mu.Lock()
	state := rt.state
	rt.mu.Unlock()
	if !MethodLegal(method, state) {
		return sdkerr.New(sdkerr.RuntimeInvalidState, "method "+method+" is not legal in state "+string(state), map[string]any{
			"method": method,
			"state":  string(state),
		})
	}
	return nil
}

// Start negotiates and transitions the runtime per §4.A.
func (rt *Runtime) Start(req StartRequest) (*Handle, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	switch rt.state {
	case StateNew:
		handle, err := negotiate(rt.id, req)
		if err != nil {
			return nil, err
		}
		rt.state = StateStarting
		rt.activeRequest = &req
		rt.handle = handle
		rt.ConfigStore = NewConfigStore(handle.EffectiveCapabilities)
		rt.state = StateRunning
		return handle, nil
	case StateRunning:
		if rt.activeRequest != nil && rt.activeRequest.Equal(req) {
			return rt.handle, nil
		}
		return nil, sdkerr.New(sdkerr.RuntimeAlreadyRunningDifferentConfig, "runtime already running with a different configuration", nil)
	default:
		return nil, sdkerr.New(sdkerr.RuntimeInvalidState, "start is only legal in New or Running", map[string]any{"state": string(rt.state)})
	}
}

// Shutdown transitions the runtime toward Stopped; idempotent in terminal
// states. mode is accepted for interface completeness; how it interacts
// with in-flight sends is enforced by the caller's context cancellation.
func (rt *Runtime) Shutdown(mode ShutdownMode) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !MethodLegal("shutdown", rt.state) {
		return sdkerr.New(sdkerr.RuntimeInvalidState, "shutdown is not legal in state "+string(rt.state), nil)
	}
	if rt.state == StateStopped || rt.state == StateFailed {
		return nil
	}
	rt.state = StateStopped
	return nil
}

// State returns the runtime's current lifecycle state.
func (rt *Runtime) State() State {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Handle returns the negotiated handle, if the runtime has started.
func (rt *Runtime) Handle() *Handle {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.handle
}

func negotiate(runtimeID string, req StartRequest) (*Handle, error) {
	version := highestCommonVersion(req.SupportedContractVersions, supportedContractVersions)
	if version == 0 {
		return nil, sdkerr.New(sdkerr.CapabilityContractIncompatible, "no overlapping contract version", nil)
	}

	if !ValidProfile(req.Config.Profile) {
		return nil, sdkerr.New(sdkerr.CapabilityContractIncompatible, "unknown profile "+string(req.Config.Profile), nil)
	}

	required := requiredCapabilities[req.Config.Profile]
	optional := stringSet(optionalCapabilities[req.Config.Profile])

	effective := stringSet(required)
	requestedNonEmpty := len(req.RequestedCapabilities) > 0
	grantedOptional := 0
	for _, cap := range req.RequestedCapabilities {
		if optional[cap] {
			effective[cap] = true
			grantedOptional++
		}
	}
	if requestedNonEmpty && grantedOptional == 0 && len(optional) > 0 {
		return nil, sdkerr.New(sdkerr.CapabilityContractIncompatible, "requested capabilities do not overlap the profile's optional set", nil)
	}

	limits := clampLimits(profileLimits[req.Config.Profile], req.Config)

	return &Handle{
		RuntimeID:             runtimeID,
		ActiveContractVersion: version,
		EffectiveCapabilities: effective,
		EffectiveLimits:       limits,
		ContractRelease:       "lxmf-sdk/1",
		SchemaNamespace:       "lxmf.sdk.v1",
	}, nil
}

func highestCommonVersion(caller, runtime []int) int {
	runtimeSet := map[int]bool{}
	for _, v := range runtime {
		runtimeSet[v] = true
	}
	best := 0
	for _, v := range caller {
		if runtimeSet[v] && v > best {
			best = v
		}
	}
	return best
}

func clampLimits(base Limits, cfg SdkConfig) Limits {
	out := base
	if v, ok := cfg.EventStreamLimits["max_poll_events"]; ok && v > 0 && v < out.MaxPollEvents {
		out.MaxPollEvents = v
	}
	if v, ok := cfg.EventStreamLimits["max_event_payload_bytes"]; ok && v > 0 && v < out.MaxEventPayloadBytes {
		out.MaxEventPayloadBytes = v
	}
	if v, ok := cfg.EventStreamLimits["max_envelope_bytes"]; ok && v > 0 && v < out.MaxEnvelopeBytes {
		out.MaxEnvelopeBytes = v
	}
	if cfg.IdempotencyTTLMs > 0 && cfg.IdempotencyTTLMs < out.IdempotencyTTLMs {
		out.IdempotencyTTLMs = cfg.IdempotencyTTLMs
	}
	return out
}
