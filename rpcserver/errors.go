package rpcserver

import (
	"net/http"

	"github.com/FreeTAKTeam/lxmf-go/sdkerr"
)

// categoryStatus maps an sdkerr.Category to the HTTP status the RPC surface
// reports it under; the body always carries the full machine-readable error
// regardless of status code.
var categoryStatus = map[sdkerr.Category]int{
	sdkerr.CategoryValidation: http.StatusBadRequest,
	sdkerr.CategoryRuntime:    http.StatusConflict,
	sdkerr.CategoryCursor:     http.StatusGone,
	sdkerr.CategoryConfig:     http.StatusConflict,
	sdkerr.CategoryCapability: http.StatusUnprocessableEntity,
	sdkerr.CategorySecurity:   http.StatusForbidden,
	sdkerr.CategoryDelivery:   http.StatusOK,
}

// writeError serializes err as the frame body {"error": {...}}. Non-sdkerr
// errors (I/O, transport failures) are wrapped as an opaque runtime error
// so every /rpc response has the same shape.
func writeError(w http.ResponseWriter, err error) {
	se, ok := err.(*sdkerr.Error)
	if !ok {
		se = sdkerr.New(sdkerr.RuntimeInvalidState, err.Error(), nil)
	}

	status, ok := categoryStatus[se.Category]
	if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/msgpack")
	w.WriteHeader(status)
	_ = writeFrame(w, map[string]interface{}{
		"error": map[string]interface{}{
			"machine_code":    string(se.Code),
			"category":        string(se.Category),
			"message":         se.Message,
			"user_actionable": se.UserActionable,
			"details":         se.Details,
		},
	})
}
