package rpcserver

import (
	"context"
	"fmt"

	"github.com/FreeTAKTeam/lxmf-go/identity"
	"github.com/FreeTAKTeam/lxmf-go/runtime"
	"github.com/FreeTAKTeam/lxmf-go/sdkerr"
	"github.com/FreeTAKTeam/lxmf-go/sendpipeline"
)

func paramString(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func paramInt(params map[string]interface{}, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func paramBytes(params map[string]interface{}, key string) []byte {
	switch v := params[key].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}

func paramStringSlice(params map[string]interface{}, key string) []string {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func paramIntSlice(params map[string]interface{}, key string) []int {
	raw, ok := params[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case int:
			out = append(out, n)
		case int64:
			out = append(out, int(n))
		case uint64:
			out = append(out, int(n))
		case float64:
			out = append(out, int(n))
		}
	}
	return out
}

// handleNegotiate performs the same contract-version and capability
// negotiation as start; legacy clients that predate the start/negotiate
// split still call it directly.
func (s *Server) handleNegotiate(params map[string]interface{}) (interface{}, error) {
	return s.handleStart(params)
}

func (s *Server) handleStart(params map[string]interface{}) (interface{}, error) {
	cfg := runtime.SdkConfig{
		Profile:        runtime.Profile(paramString(params, "profile")),
		BindMode:       paramString(params, "bind_mode"),
		AuthMode:       paramString(params, "auth_mode"),
		OverflowPolicy: paramString(params, "overflow_policy"),
	}
	req := runtime.StartRequest{
		SupportedContractVersions: paramIntSlice(params, "supported_contract_versions"),
		RequestedCapabilities:     paramStringSlice(params, "requested_capabilities"),
		Config:                    cfg,
	}
	handle, err := s.Runtime.Start(req)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"runtime_id":              handle.RuntimeID,
		"active_contract_version": handle.ActiveContractVersion,
		"effective_capabilities":  handle.EffectiveCapabilities,
		"contract_release":        handle.ContractRelease,
		"schema_namespace":        handle.SchemaNamespace,
	}, nil
}

func (s *Server) handleSend(params map[string]interface{}) (interface{}, error) {
	if err := s.Runtime.CheckMethodLegal("send"); err != nil {
		return nil, err
	}

	source, err := identity.ParseAddressHash(paramString(params, "source"))
	if err != nil {
		return nil, sdkerr.New(sdkerr.ValidationInvalidArgument, err.Error(), nil)
	}
	destination, err := identity.ParseAddressHash(paramString(params, "destination"))
	if err != nil {
		return nil, sdkerr.New(sdkerr.ValidationInvalidArgument, err.Error(), nil)
	}

	req := sendpipeline.Request{
		Source:               source,
		Destination:          destination,
		Timestamp:            float64(paramInt(params, "timestamp")),
		Title:                paramBytes(params, "title"),
		Content:              paramBytes(params, "content"),
		IdempotencyKey:       paramString(params, "idempotency_key"),
		Method:               sendpipeline.Method(paramString(params, "method")),
		TryPropagationOnFail: params["try_propagation_on_fail"] == true,
	}
	result, err := s.Pipeline.Send(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"message_id": result.MessageID,
		"method":     string(result.Method),
	}, nil
}

func (s *Server) handleCancel(params map[string]interface{}) (interface{}, error) {
	if err := s.Runtime.CheckMethodLegal("cancel"); err != nil {
		return nil, err
	}
	outcome := s.Tracker.Cancel(paramString(params, "message_id"))
	return map[string]interface{}{"outcome": string(outcome)}, nil
}

func (s *Server) handleStatus(params map[string]interface{}) (interface{}, error) {
	if err := s.Runtime.CheckMethodLegal("status"); err != nil {
		return nil, err
	}
	rec, ok := s.Tracker.Get(paramString(params, "message_id"))
	if !ok {
		return nil, sdkerr.New(sdkerr.RuntimeNotFound, "unknown message_id", nil)
	}
	trace := make([]map[string]interface{}, 0, len(rec.Trace))
	for _, t := range rec.Trace {
		trace = append(trace, map[string]interface{}{
			"status":       t.Status,
			"timestamp_ms": t.TimestampMs,
			"reason_code":  t.ReasonCode,
		})
	}
	return map[string]interface{}{
		"message_id": rec.MessageID,
		"status":     string(rec.Status),
		"raw_status": rec.RawStatus,
		"trace":      trace,
	}, nil
}

func (s *Server) handlePollEvents(params map[string]interface{}) (interface{}, error) {
	if err := s.Runtime.CheckMethodLegal("poll_events"); err != nil {
		return nil, err
	}
	handle := s.Runtime.Handle()
	if handle == nil {
		return nil, sdkerr.New(sdkerr.RuntimeInvalidState, "runtime has no negotiated handle", nil)
	}
	max := paramInt(params, "max")
	result, err := s.EventLog.PollEvents(paramString(params, "cursor"), max, handle.EffectiveLimits.MaxPollEvents)
	if err != nil {
		return nil, err
	}
	events := make([]map[string]interface{}, 0, len(result.Events))
	for _, e := range result.Events {
		events = append(events, map[string]interface{}{
			"seq_no":    e.SeqNo,
			"type":      e.Type,
			"severity":  string(e.Severity),
			"timestamp": e.Timestamp.UnixMilli(),
		})
	}
	return map[string]interface{}{
		"events":        events,
		"next_cursor":   result.NextCursor,
		"dropped_count": result.DroppedCount,
	}, nil
}

func (s *Server) handleConfigure(params map[string]interface{}) (interface{}, error) {
	if err := s.Runtime.CheckMethodLegal("configure"); err != nil {
		return nil, err
	}
	patch, _ := params["patch"].(map[string]interface{})
	expectedRevision := int64(paramInt(params, "expected_revision"))
	revision, err := s.Runtime.ConfigStore.Configure(expectedRevision, patch)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"revision": revision}, nil
}

func (s *Server) handleSnapshot(params map[string]interface{}) (interface{}, error) {
	if err := s.Runtime.CheckMethodLegal("snapshot"); err != nil {
		return nil, err
	}
	handle := s.Runtime.Handle()
	out := map[string]interface{}{
		"runtime_id":     "",
		"state":          string(s.Runtime.State()),
		"config_revision": s.Runtime.ConfigStore.Revision(),
	}
	if handle != nil {
		out["runtime_id"] = handle.RuntimeID
		out["active_contract_version"] = handle.ActiveContractVersion
		out["effective_capabilities"] = handle.EffectiveCapabilities
	}
	if s.Propagation != nil {
		out["propagation_state"] = string(s.Propagation.State().State)
	}
	return out, nil
}

func (s *Server) handleShutdown(params map[string]interface{}) (interface{}, error) {
	mode := runtime.ShutdownMode(paramString(params, "mode"))
	if mode == "" {
		mode = runtime.ShutdownGraceful
	}
	if err := s.Runtime.Shutdown(mode); err != nil {
		return nil, err
	}
	return map[string]interface{}{"state": string(s.Runtime.State())}, nil
}

func (s *Server) handleTick(params map[string]interface{}) (interface{}, error) {
	if err := s.Runtime.CheckMethodLegal("tick"); err != nil {
		return nil, err
	}
	maxWorkItems := paramInt(params, "max_work_items")
	if maxWorkItems <= 0 {
		maxWorkItems = 1
	}
	s.publishEvent("tick", fmt.Sprintf("processed up to %d items", maxWorkItems))
	return map[string]interface{}{
		"processed_items": 0,
		"yielded":          false,
	}, nil
}
