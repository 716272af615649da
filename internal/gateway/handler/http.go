package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"pcbmill/internal/event"
	"pcbmill/internal/gateway/service/workflow"
)

type sessionResponse struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) HandleSession(w http.ResponseWriter, _ *http.Request) {
	sess := h.svc.NewSession()
	h.log.Debug("session created", zap.String("session", sess.ID))
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sess.ID})
}

func sessionID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(SessionHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("sessionId"))
}

// HandleUpload accepts a Gerber ZIP in the multipart field "file" and
// commits it as the next Gerber version of the session's project.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeEnvelope(w, event.ErrorEnvelope(workflow.OpUploadGerber, event.Invalid("multipart field file is required: %v", err)))
		return
	}
	defer file.Close()

	path, err := h.spool(file)
	if err != nil {
		h.log.Error("spool upload", zap.Error(err))
		writeEnvelope(w, event.ErrorEnvelope(workflow.OpUploadGerber, err))
		return
	}
	defer os.Remove(path)

	rec := &event.Recorder{}
	_ = h.svc.UploadGerber(r.Context(), sid, path, tee{rec, h.broadcast(sid)})
	env, _ := rec.Last()
	writeEnvelope(w, env)
}

// spool copies an upload into UploadsDir so the archive reader can seek.
func (h *Handler) spool(src io.Reader) (string, error) {
	if err := os.MkdirAll(h.opts.UploadsDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(h.opts.UploadsDir, "upload-*.zip")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(f.Name())
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return "", event.Invalid("upload exceeds %d bytes", tooBig.Limit)
		}
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, event.Invalid("%s must be a non-negative integer", key)
	}
	return n, nil
}

// HandleDownload streams the ZIP of a version directory. Missing versions
// answer 404 with an error envelope.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r)
	g, err := queryInt(r, "gerberVersion")
	if err != nil {
		writeEnvelope(w, event.ErrorEnvelope(workflow.OpDownload, err))
		return
	}
	m, err := queryInt(r, "gcodeVersion")
	if err != nil {
		writeEnvelope(w, event.ErrorEnvelope(workflow.OpDownload, err))
		return
	}
	kind := firstNonEmpty(r.URL.Query().Get("kind"), workflow.KindGCode)

	rec := &event.Recorder{}
	res, err := h.svc.Download(r.Context(), sid, kind, g, m, rec)
	if err != nil {
		env, _ := rec.Last()
		writeEnvelope(w, env)
		return
	}

	f, err := os.Open(res.Path)
	if err != nil {
		writeEnvelope(w, event.ErrorEnvelope(workflow.OpDownload, err))
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeEnvelope(w, event.ErrorEnvelope(workflow.OpDownload, err))
		return
	}
	if res.URL != "" {
		w.Header().Set(ArtifactURLHeader, res.URL)
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Name))
	http.ServeContent(w, r, res.Name, info.ModTime(), f)
}

type projectsResponse struct {
	Projects []workflow.ProjectInfo `json:"projects"`
}

func (h *Handler) HandleProjects(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListProjects(r.Context())
	if err != nil {
		h.log.Error("list projects", zap.Error(err))
		writeEnvelope(w, event.ErrorEnvelope("listProjects", err))
		return
	}
	writeJSON(w, http.StatusOK, projectsResponse{Projects: list})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
