// Package runtime owns the SDK runtime's lifecycle, contract negotiation,
// and the config/capability store.
package runtime

// Profile selects a resource envelope the negotiated runtime operates under.
type Profile string

const (
	ProfileDesktopFull          Profile = "desktop-full"
	ProfileDesktopLocalRuntime  Profile = "desktop-local-runtime"
	ProfileEmbeddedAlloc        Profile = "embedded-alloc"
)

// ValidProfile reports whether p is one of the three supported profiles.
func ValidProfile(p Profile) bool {
	switch p {
	case ProfileDesktopFull, ProfileDesktopLocalRuntime, ProfileEmbeddedAlloc:
		return true
	}
	return false
}

// Limits is the effective set of five resource limits negotiated for a profile.
type Limits struct {
	MaxPollEvents        int
	MaxEventPayloadBytes int
	MaxEnvelopeBytes     int
	MaxDeliveryTraceLen  int
	IdempotencyTTLMs     int64
}

var profileLimits = map[Profile]Limits{
	ProfileDesktopFull: {
		MaxPollEvents:        256,
		MaxEventPayloadBytes: 65536,
		MaxEnvelopeBytes:     1048576,
		MaxDeliveryTraceLen:  32,
		IdempotencyTTLMs:     86_400_000,
	},
	ProfileDesktopLocalRuntime: {
		MaxPollEvents:        64,
		MaxEventPayloadBytes: 32768,
		MaxEnvelopeBytes:     1048576,
		MaxDeliveryTraceLen:  32,
		IdempotencyTTLMs:     43_200_000,
	},
	ProfileEmbeddedAlloc: {
		MaxPollEvents:        32,
		MaxEventPayloadBytes: 8192,
		MaxEnvelopeBytes:     262144,
		MaxDeliveryTraceLen:  32,
		IdempotencyTTLMs:     7_200_000,
	},
}

// Capability IDs negotiated into effective_capabilities.
const (
	CapReceiptTerminality = "receipt_terminality"
	CapConfigRevisionCAS  = "config_revision_cas"
	CapIdempotencyTTL     = "idempotency_ttl"
	CapCursorReplay       = "cursor_replay"
	CapAsyncEvents        = "async_events"
	CapManualTick         = "manual_tick"
	CapTokenAuth          = "token_auth"
	CapMTLSAuth           = "mtls_auth"
)

var requiredCapabilities = map[Profile][]string{
	ProfileDesktopFull: {
		CapReceiptTerminality, CapConfigRevisionCAS, CapIdempotencyTTL,
		CapCursorReplay, CapAsyncEvents,
	},
	ProfileDesktopLocalRuntime: {
		CapReceiptTerminality, CapConfigRevisionCAS, CapIdempotencyTTL,
		CapCursorReplay,
	},
	ProfileEmbeddedAlloc: {
		CapReceiptTerminality, CapConfigRevisionCAS, CapIdempotencyTTL,
		CapManualTick,
	},
}

var optionalCapabilities = map[Profile][]string{
	ProfileDesktopFull:         {CapManualTick, CapTokenAuth, CapMTLSAuth},
	ProfileDesktopLocalRuntime: {CapCursorReplay, CapAsyncEvents, CapManualTick, CapTokenAuth, CapMTLSAuth},
	ProfileEmbeddedAlloc:       {CapCursorReplay},
}

func stringSet(vals []string) map[string]bool {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}
