package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvsplit/internal/logging"
	"github.com/JonMunkholm/csvsplit/internal/web/templates"
)

// handleHome renders the upload page and, with history enabled, the latest
// runs.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	data := templates.HomeData{
		HistoryEnabled: s.cfg.History.Enabled(),
		MaxFileSize:    s.cfg.Upload.MaxFileSize,
		ThresholdBytes: s.cfg.Split.ThresholdBytes,
		RowsPerPart:    s.cfg.Split.RowsPerPart,
	}
	if data.HistoryEnabled {
		runs, err := s.service.RecentRuns(r.Context())
		if err != nil {
			// The page is still useful without the list.
			logging.FromContext(r.Context()).Error("load recent runs", "error", err)
		}
		data.Runs = runs
	}

	s.render(w, r, http.StatusOK, templates.HomePage(data))
}

// handleUpload stores the uploaded file in a new session and sends the
// browser to it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
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

	http.Redirect(w, r, templates.SessionURL(info.ID), http.StatusSeeOther)
}

// handleSessionPage renders the current step of a session.
func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.Session(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	s.render(w, r, http.StatusOK, templates.SessionPage(templates.SessionData{
		Info:            info,
		DefaultBaseName: s.cfg.Split.DefaultBaseName,
	}))
}

// handleSelectMember records which archive member to process.
func (s *Server) handleSelectMember(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.parseForm(r); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	info, err := s.service.SelectMember(r.Context(), id, r.FormValue("member"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	http.Redirect(w, r, templates.SessionURL(info.ID), http.StatusSeeOther)
}

// handleProcess runs the submission. The page script gets the result
// panel back; a plain form post is redirected to the session page, which
// shows the same panel.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.parseForm(r); err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	result, err := s.service.Process(WithRequestMetadata(r.Context(), r), id, processRequestFromForm(r))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	if isFetch(r) {
		s.render(w, r, http.StatusOK, templates.ResultPanel(id, result))
		return
	}
	http.Redirect(w, r, templates.SessionURL(id), http.StatusSeeOther)
}

// handleCloseSession removes the session and its files.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CloseSession(chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err, 0)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
