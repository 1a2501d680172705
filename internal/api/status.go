package api

import (
	"net/http"
	"strings"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/objectstore"
)

// statusObjectKeyPrefixes are the object key namespaces a frontend status
// read is allowed to see, per §6's "filtered to objects whose key starts
// with one of {user., device., shared., schedule., structure.}".
var statusObjectKeyPrefixes = []string{"user.", "device.", "shared.", "schedule.", "structure."}

func includeInStatus(objectKey string) bool {
	for _, prefix := range statusObjectKeyPrefixes {
		if strings.HasPrefix(objectKey, prefix) {
			return true
		}
	}
	return false
}

// handleStatus implements §6's frontend-facing read endpoint: every serial
// the session's user owns or is shared, filtered to a query-string serial
// if given, with each device's object set filtered to the namespaces
// listed above.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)

	serials, err := s.authz.SerialsForUser(r.Context(), userID)
	if err != nil {
		s.logger.Error("status: load device set", "user_id", userID, "error", err)
		writeInternalError(w, "failed to load device set")
		return
	}

	if requested := r.URL.Query().Get("serial"); requested != "" {
		filtered := serials[:0:0]
		for _, serial := range serials {
			if serial == requested {
				filtered = append(filtered, serial)
			}
		}
		serials = filtered
	}

	deviceState := make(map[string]map[string]objectstore.Object, len(serials))
	for _, serial := range serials {
		objects, err := s.states.GetAllForDevice(r.Context(), serial)
		if err != nil {
			s.logger.Error("status: load device objects", "serial", serial, "error", err)
			continue
		}
		filtered := make(map[string]objectstore.Object, len(objects))
		for key, obj := range objects {
			if includeInStatus(key) {
				filtered[key] = obj
			}
		}
		deviceState[serial] = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices":     serials,
		"deviceState": deviceState,
	})
}
