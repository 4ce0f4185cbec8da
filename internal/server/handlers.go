package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	perrors "github.com/conneroisu/previewkit/internal/errors"
	"github.com/conneroisu/previewkit/internal/preview"
	"github.com/conneroisu/previewkit/internal/session"
	"github.com/conneroisu/previewkit/internal/version"
)

// sourceRequest is the body of session create and update requests.
type sourceRequest struct {
	JSX string `json:"jsx"`
	CSS string `json:"css"`
}

type updateResponse struct {
	Generation uint64                `json:"generation"`
	Compiled   bool                  `json:"compiled"`
	Events     []preview.RenderEvent `json:"events"`
}

type snapshotResponse struct {
	Generation uint64 `json:"generation"`
	HTML       string `json:"html"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Sessions  int       `json:"sessions"`
	Clients   int       `json:"clients"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	unit, present, err := s.decodeSource(w, r, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.store.Create(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Attach(sess)

	if present {
		if _, err := sess.Update(r.Context(), unit); err != nil {
			s.detach(sess.ID)
			_ = s.store.Delete(sess.ID)
			s.writeError(w, r, err)
			return
		}
	}

	w.Header().Set("Location", "/api/sessions/"+sess.ID)
	writeJSON(w, http.StatusCreated, sess.Info())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.store.List()
	infos := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.detach(id)
	if err := s.store.Delete(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	unit, _, err := s.decodeSource(w, r, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := sess.Update(r.Context(), unit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	events := result.Events
	if events == nil {
		events = []preview.RenderEvent{}
	}
	writeJSON(w, http.StatusOK, updateResponse{
		Generation: result.Generation,
		Compiled:   !result.Artifact.Failed(),
		Events:     events,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	events := sess.Events()
	if events == nil {
		events = []preview.RenderEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	document := sess.Document()
	if document == "" {
		s.writeError(w, r, preview.ErrNotMounted)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", "sandbox allow-scripts")
	_, _ = io.WriteString(w, document)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.Sandbox.Timeout+2*time.Second)
	defer cancel()

	html, generation, err := sess.SnapshotWithGeneration(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Generation: generation, HTML: html})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="preview-%s.zip"`, sess.ID))
	if err := sess.Export(w); err != nil {
		s.logger.Warn(r.Context(), err, "Export failed", "session", sess.ID)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Version:   version.GetShortVersion(),
		Sessions:  s.store.Len(),
		Clients:   s.hub.GetConnectedClients(),
		Timestamp: time.Now(),
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

// decodeSource reads a sourceRequest. With optional set an empty body is
// accepted and reported as not present.
func (s *Server) decodeSource(w http.ResponseWriter, r *http.Request, optional bool) (preview.SourceUnit, bool, error) {
	// JSON escaping can double the size of the source text.
	limit := int64(s.config.Preview.MaxSourceBytes)*2 + 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var req sourceRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return preview.SourceUnit{}, false, nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return preview.SourceUnit{}, false, maxErr
		}
		return preview.SourceUnit{}, false, perrors.NewValidationError("ERR_INVALID_BODY", fmt.Sprintf("invalid request body: %v", err))
	}
	return preview.SourceUnit{JSX: req.JSX, CSS: req.CSS}, true, nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := perrors.ErrCodeInternalError
	message := err.Error()

	var pe *perrors.PreviewError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &pe):
		code = pe.Code
		message = pe.Message
		switch {
		case pe.Code == perrors.ErrCodeSessionNotFound:
			status = http.StatusNotFound
		case pe.Code == perrors.ErrCodeSourceTooLarge:
			status = http.StatusRequestEntityTooLarge
		case pe.Type == perrors.ErrorTypeValidation:
			status = http.StatusBadRequest
		}
	case errors.As(err, &maxErr):
		status = http.StatusRequestEntityTooLarge
		code = perrors.ErrCodeSourceTooLarge
		message = fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)
	case errors.Is(err, preview.ErrNotMounted):
		status = http.StatusConflict
		code = "ERR_NOT_MOUNTED"
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		code = perrors.ErrCodeTimeout
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), err, "Request failed", "path", r.URL.Path)
	}
	writeJSONError(w, status, code, message)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}
