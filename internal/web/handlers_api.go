package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvsplit/internal/core"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

type selectMemberRequest struct {
	Member string `json:"member"`
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// handleAPIUpload opens a session from a multipart upload.
func (s *Server) handleAPIUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := s.readUpload(w, r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	defer file.Close()

	info, err := s.service.OpenSession(WithRequestMetadata(r.Context(), r), header.Filename, file)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// handleAPISession returns the session state.
func (s *Server) handleAPISession(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.Session(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleAPICloseSession removes the session and its files.
func (s *Server) handleAPICloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CloseSession(chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err, 0)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAPISelectMember chooses the archive member to process.
func (s *Server) handleAPISelectMember(w http.ResponseWriter, r *http.Request) {
	var req selectMemberRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	info, err := s.service.SelectMember(r.Context(), chi.URLParam(r, "id"), req.Member)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleAPIProcess runs {columns, base_name} against the session and
// returns the result with its download names.
func (s *Server) handleAPIProcess(w http.ResponseWriter, r *http.Request) {
	var req core.ProcessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	id := chi.URLParam(r, "id")
	result, err := s.service.Process(WithRequestMetadata(r.Context(), r), id, req)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAPIRuns lists recent runs.
func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.RecentRuns(r.Context())
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []core.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

// handleAPIStatus reports open sessions and processing slots.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Status())
}
