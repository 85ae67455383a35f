package service

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/InsulaLabs/rfs/db/engine"
	"github.com/InsulaLabs/rfs/models"
	"github.com/InsulaLabs/rfs/vfs"
	"github.com/pkg/errors"
)

// statusForError maps a command failure to an HTTP status. The stable
// message token travels in the body either way.
func statusForError(err error) (int, string) {
	var pathErr vfs.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Token() {
		case vfs.TokenNoEntry:
			return http.StatusNotFound, pathErr.Token()
		case vfs.TokenExists, vfs.TokenNotEmpty:
			return http.StatusConflict, pathErr.Token()
		case vfs.TokenCorrupt:
			return http.StatusInternalServerError, pathErr.Token()
		default:
			return http.StatusBadRequest, pathErr.Token()
		}
	}

	var noVolume *engine.ErrNoVolume
	if errors.As(err, &noVolume) {
		return http.StatusNotFound, "no volume"
	}
	var unknown *engine.ErrUnknownCommand
	if errors.As(err, &unknown) {
		return http.StatusBadRequest, "unknown command"
	}
	var wrongArgs *engine.ErrWrongArgs
	if errors.As(err, &wrongArgs) {
		return http.StatusBadRequest, "wrong arguments"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	status, errorType := statusForError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(models.ErrorResponse{
		ErrorType: errorType,
		Message:   err.Error(),
	}); encodeErr != nil {
		s.logger.Error("Could not encode error response", "error", encodeErr)
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.logger.Error("Could not encode response", "error", err)
	}
}

func (s *Service) execHandler(w http.ResponseWriter, r *http.Request) {
	if !s.validateToken(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	defer r.Body.Close()
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error("Could not read body for exec request", "error", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var p models.ExecRequest
	if err := json.Unmarshal(bodyBytes, &p); err != nil {
		s.logger.Error("Invalid JSON payload for exec request", "error", err)
		http.Error(w, "Invalid JSON payload for exec: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(p.Args) == 0 {
		http.Error(w, "Missing args in exec request payload", http.StatusBadRequest)
		return
	}

	reply, err := s.engine.Do(p.Args...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, models.ExecResponse{Reply: reply})
}

func (s *Service) pingHandler(w http.ResponseWriter, r *http.Request) {
	if !s.validateToken(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	s.writeJSON(w, models.PingResponse{
		Status: "ok",
		Type:   vfs.TypeName,
		Uptime: time.Since(s.startedAt).String(),
	})
}

func (s *Service) keysHandler(w http.ResponseWriter, r *http.Request) {
	if !s.validateToken(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	reply, err := s.engine.Do("KEYS", r.URL.Query().Get("prefix"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	raw, ok := reply.([]any)
	if !ok {
		s.writeError(w, errors.New("unexpected reply shape for KEYS"))
		return
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if name, ok := k.(string); ok {
			keys = append(keys, name)
		}
	}
	s.writeJSON(w, models.KeysResponse{Keys: keys})
}
