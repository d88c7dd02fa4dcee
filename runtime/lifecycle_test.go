package runtime

import "testing"

func defaultStartRequest() StartRequest {
	return StartRequest{
		SupportedContractVersions: []int{1},
		RequestedCapabilities:     nil,
		Config: SdkConfig{
			Profile:  ProfileDesktopFull,
			BindMode: "local_only",
			AuthMode: "local_trusted",
		},
	}
}

func TestStartNegotiatesDesktopFullLimits(t *testing.T) {
	rt := New()
	handle, err := rt.Start(defaultStartRequest())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if handle.EffectiveLimits.MaxPollEvents != 256 {
		t.Fatalf("expected max_poll_events=256, got %d", handle.EffectiveLimits.MaxPollEvents)
	}
	if !handle.EffectiveCapabilities[CapCursorReplay] {
		t.Fatalf("expected cursor_replay to be required on desktop-full")
	}
	if rt.State() != StateRunning {
		t.Fatalf("expected state Running after start, got %s", rt.State())
	}
}

func TestStartIdempotentSameRequest(t *testing.T) {
	rt := New()
	req := defaultStartRequest()
	h1, err := rt.Start(req)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	h2, err := rt.Start(req)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if h1.RuntimeID != h2.RuntimeID {
		t.Fatalf("expected same runtime handle on idempotent re-start")
	}
}

func TestStartDifferentConfigWhileRunningFails(t *testing.T) {
	rt := New()
	if _, err := rt.Start(defaultStartRequest()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	other := defaultStartRequest()
	other.Config.Profile = ProfileEmbeddedAlloc
	_, err := rt.Start(other)
	if err == nil {
		t.Fatalf("expected error starting with a different config while running")
	}
}

func TestMethodLegalityMatrix(t *testing.T) {
	rt := New()
	if err := rt.CheckMethodLegal("send"); err == nil {
		t.Fatalf("expected send illegal before start")
	}
	if _, err := rt.Start(defaultStartRequest()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rt.CheckMethodLegal("send"); err != nil {
		t.Fatalf("expected send legal once running: %v", err)
	}
	if err := rt.Shutdown(ShutdownImmediate); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := rt.CheckMethodLegal("send"); err == nil {
		t.Fatalf("expected send illegal once stopped")
	}
	if err := rt.Shutdown(ShutdownImmediate); err != nil {
		t.Fatalf("expected idempotent shutdown in terminal state, got %v", err)
	}
}

func TestEmbeddedAllocRequiresManualTick(t *testing.T) {
	rt := New()
	req := defaultStartRequest()
	req.Config.Profile = ProfileEmbeddedAlloc
	handle, err := rt.Start(req)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !handle.EffectiveCapabilities[CapManualTick] {
		t.Fatalf("expected manual_tick required on embedded-alloc")
	}
	if handle.EffectiveCapabilities[CapMTLSAuth] {
		t.Fatalf("mtls_auth must never be granted on embedded-alloc")
	}
	if handle.EffectiveLimits.MaxEnvelopeBytes != 262144 {
		t.Fatalf("expected embedded-alloc max_envelope_bytes=262144, got %d", handle.EffectiveLimits.MaxEnvelopeBytes)
	}
}

func TestNoOverlappingContractVersionFails(t *testing.T) {
	rt := New()
	req := defaultStartRequest()
	req.SupportedContractVersions = []int{99}
	if _, err := rt.Start(req); err == nil {
		t.Fatalf("expected CAPABILITY_CONTRACT_INCOMPATIBLE for non-overlapping contract version")
	}
}
