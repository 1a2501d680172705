package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"
)

// handleEntry implements §4.E's device check-in: the side effect is
// marking the device seen; the response body is intentionally minimal
// since server-assigned connection parameters are a pairing concern out of
// this core's scope.
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	serial, _ := r.Context().Value(ctxKeySerial).(string)
	if s.watchdog != nil {
		s.watchdog.MarkSeen(serial)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type putObject struct {
	Serial          string            `json:"serial"`
	ObjectKey       string            `json:"object_key"`
	ObjectRevision  int64             `json:"object_revision"`
	ObjectTimestamp int64             `json:"object_timestamp"`
	Value           objectstore.Value `json:"value"`
}

type putRequest struct {
	Objects []putObject `json:"objects"`
}

// handleTransportPut implements §4.E's `PUT /transport/put`: every object
// in the batch must belong to the serial the entry key authorized, and is
// written through devicestate.Service so watchdog/subscription/integration
// observers fire per commit.
func (s *Server) handleTransportPut(w http.ResponseWriter, r *http.Request) {
	serial, _ := r.Context().Value(ctxKeySerial).(string)

	var req putRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "malformed request body")
		return
	}

	accepted := 0
	for _, obj := range req.Objects {
		if obj.Serial != "" && obj.Serial != serial {
			writeError(w, http.StatusForbidden, "serial_mismatch", "object serial does not match authorized device")
			return
		}
		if obj.ObjectKey == "" {
			writeBadRequest(w, "missing object_key")
			return
		}

		_, err := s.states.Upsert(r.Context(), serial, obj.ObjectKey, obj.ObjectRevision, obj.ObjectTimestamp, obj.Value)
		if err != nil {
			if errors.Is(err, objectstore.ErrUnavailable) {
				writeError(w, http.StatusServiceUnavailable, "store_unavailable", "backing store unavailable")
				return
			}
			s.logger.Error("transport put failed", "serial", serial, "object_key", obj.ObjectKey, "error", err)
			writeInternalError(w, "failed to write object")
			return
		}
		accepted++
	}

	writeJSON(w, http.StatusOK, map[string]any{"accepted": accepted})
}

type subscribeRequest struct {
	Keys      []string `json:"keys"`
	TimeoutMS int      `json:"timeout_ms"`
}

type deliveredObject struct {
	ObjectKey       string            `json:"object_key"`
	ObjectRevision  int64             `json:"object_revision"`
	ObjectTimestamp int64             `json:"object_timestamp"`
	Value           objectstore.Value `json:"value"`
}

// handleTransportSubscribe implements §4.E's long poll: it registers a
// waiter for the authorized serial, then blocks until delivery, timeout,
// or client disconnect, whichever comes first.
func (s *Server) handleTransportSubscribe(w http.ResponseWriter, r *http.Request) {
	serial, _ := r.Context().Value(ctxKeySerial).(string)

	var req subscribeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "malformed request body")
			return
		}
	}

	timeoutMS := req.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = s.subCfg.DefaultTimeoutMS
	}

	waiter := s.sub.Register(serial, req.Keys)

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	delivery, ok := waiter.Await(ctx)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"objects": []deliveredObject{}})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"objects": []deliveredObject{{
			ObjectKey:       delivery.ObjectKey,
			ObjectRevision:  delivery.Object.ObjectRevision,
			ObjectTimestamp: delivery.Object.ObjectTimestamp,
			Value:           delivery.Object.Value,
		}},
	})
}
