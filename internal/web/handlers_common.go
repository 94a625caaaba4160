package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvsplit/internal/core"
	"github.com/JonMunkholm/csvsplit/internal/logging"
)

// formOverhead is allowed on top of the file size for multipart framing
// and the other form fields.
const formOverhead = 1 << 20

// keepAliveInterval is how often an idle progress stream sends a comment.
const keepAliveInterval = 15 * time.Second

// readUpload parses the multipart body and returns the "file" field.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+formOverhead)

	if err := r.ParseMultipartForm(s.cfg.Upload.MaxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, core.ErrFileTooLarge
		}
		return nil, nil, fmt.Errorf("%w: %v", core.ErrNoFile, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, core.ErrNoFile
	}
	return file, header, nil
}

// parseForm accepts both urlencoded and multipart form bodies.
func (s *Server) parseForm(r *http.Request) error {
	err := r.ParseMultipartForm(s.cfg.Upload.MaxMemory)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return err
	}
	return nil
}

// processRequestFromForm reads the column checkboxes and output name.
func processRequestFromForm(r *http.Request) core.ProcessRequest {
	return core.ProcessRequest{
		Columns:  r.Form["columns"],
		BaseName: r.FormValue("base_name"),
	}
}

// handleProgress streams session progress via Server-Sent Events. The
// first event is the current state; the stream ends when the client goes
// away or the session is closed.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	progressCh, unsubscribe, err := s.service.SubscribeProgress(id)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		logging.FromContext(r.Context()).Error("progress stream", "error", err)
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	eventID := 0
	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				rc.Flush()
				return
			}

			eventID++
			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", eventID, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleDownload serves one output file of the session's last run.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %s", core.ErrArtifactNotFound, chi.URLParam(r, "name")), 0)
		return
	}

	f, artifact, err := s.service.OpenArtifact(id, name)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	defer f.Close()

	modTime := time.Time{}
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}

	contentType := "text/csv; charset=utf-8"
	if artifact.Kind == core.ArtifactArchive {
		contentType = "application/zip"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Name}))

	http.ServeContent(w, r, artifact.Name, modTime, f)
}

// render writes an HTML component. Render errors happen after the header
// is sent, so they are only logged.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render", "path", r.URL.Path, "error", err)
	}
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
