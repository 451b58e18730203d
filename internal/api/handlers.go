package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/npezzotti/go-roster/internal/access"
)

const maxBodyBytes = 1 << 20

func (s *RosterApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorw("json encode", "error", err)
	}
}

// decodeJson reads a single JSON object from the request body. An empty body
// decodes to the zero value.
func decodeJson(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func callerOf(r *http.Request) access.Caller {
	return access.CallerFromContext(r.Context())
}

func (s *RosterApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Errorw("health check failed", "error", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
