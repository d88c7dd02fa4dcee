package rpcserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/FreeTAKTeam/lxmf-go/sdkerr"
)

// handleEventsLongPoll implements the GET /events fallback for profiles
// without async_events: it polls the event log every tickInterval until
// either new events are available or pollWait elapses, then returns
// whatever poll_events would have.
func (s *Server) handleEventsLongPoll(w http.ResponseWriter, r *http.Request) {
	handle := s.Runtime.Handle()
	if handle == nil {
		writeError(w, sdkerr.New(sdkerr.RuntimeInvalidState, "runtime has no negotiated handle", nil))
		return
	}

	cursor := r.URL.Query().Get("cursor")
	max := handle.EffectiveLimits.MaxPollEvents
	if v := r.URL.Query().Get("max"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			max = parsed
		}
	}

	const tickInterval = 250 * time.Millisecond
	deadline := time.Now().Add(pollWait)
	for {
		result, err := s.EventLog.PollEvents(cursor, max, handle.EffectiveLimits.MaxPollEvents)
		if err != nil {
			writeError(w, err)
			return
		}
		if len(result.Events) > 0 || time.Now().After(deadline) {
			w.Header().Set("Content-Type", "application/msgpack")
			events := make([]map[string]interface{}, 0, len(result.Events))
			for _, e := range result.Events {
				events = append(events, map[string]interface{}{
					"seq_no":    e.SeqNo,
					"type":      e.Type,
					"severity":  string(e.Severity),
					"timestamp": e.Timestamp.UnixMilli(),
				})
			}
			_ = writeFrame(w, map[string]interface{}{
				"events":        events,
				"next_cursor":   result.NextCursor,
				"dropped_count": result.DroppedCount,
			})
			return
		}
		time.Sleep(tickInterval)
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEventsWS upgrades to a push-based event stream for async_events
// capable profiles: every newly published event is forwarded as soon as
// it lands, instead of requiring the client to re-poll.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	handle := s.Runtime.Handle()
	if handle == nil || !handle.EffectiveCapabilities["async_events"] {
		writeError(w, sdkerr.New(sdkerr.CapabilityDisabled, "async_events capability is not negotiated", nil))
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	cursor := r.URL.Query().Get("cursor")
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		result, err := s.EventLog.PollEvents(cursor, handle.EffectiveLimits.MaxPollEvents, handle.EffectiveLimits.MaxPollEvents)
		if err != nil {
			_ = conn.WriteJSON(map[string]interface{}{"error": err.Error()})
			return
		}
		if len(result.Events) == 0 {
			continue
		}
		cursor = result.NextCursor
		for _, e := range result.Events {
			if err := conn.WriteJSON(map[string]interface{}{
				"seq_no":    e.SeqNo,
				"type":      e.Type,
				"severity":  string(e.Severity),
				"timestamp": e.Timestamp.UnixMilli(),
			}); err != nil {
				return
			}
		}
	}
}
