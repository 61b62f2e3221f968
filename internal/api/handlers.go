// Copyright (c) 2025 OpusAI
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opusai/opusmix/internal/admin"
	xlog "github.com/opusai/opusmix/internal/log"
	"github.com/opusai/opusmix/internal/mix"
	"github.com/opusai/opusmix/internal/store"
)

// maxMultipartMemory bounds the in-memory part of multipart parsing; larger
// parts spill to disk.
const maxMultipartMemory = 8 << 20

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.Create()
	st := &store.State{
		ID:        id,
		Status:    store.StatusNew,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Put(r.Context(), st); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	label := chi.URLParam(r, "label")
	if label != "a" && label != "b" {
		writeBadRequest(w, "label must be 'a' or 'b'")
		return
	}
	if _, err := s.store.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	body, filename, err := uploadBody(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	defer body.Close()

	path, err := s.sessions.AcceptUpload(id, label, filename, body)
	if err != nil {
		writeError(w, err)
		return
	}

	if _, err := s.store.Update(r.Context(), id, func(st *store.State) error {
		st.Status = store.StatusUploading
		st.SessionDir = s.sessions.Dir(id)
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}

	s.metrics.UploadsAccepted.Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": id,
		"file":       filepath.Base(path),
		"path":       path,
	})
}

// uploadBody accepts either a multipart form with a "file" part or a raw
// request body.
func uploadBody(r *http.Request) (io.ReadCloser, string, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/") {
		f, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("multipart upload requires a 'file' part")
		}
		return f, header.Filename, nil
	}
	return r.Body, r.URL.Query().Get("filename"), nil
}

type generateRequest struct {
	UserPrompt string `json:"user_prompt"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	paths, err := s.sessions.TrackPaths(id)
	if err != nil || len(paths) < 2 {
		writeBadRequest(w, "both tracks must be uploaded before generating")
		return
	}

	var req generateRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := s.orch.Submit(r.Context(), id, req.UserPrompt); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id":   id,
		"status":       store.StatusProcessing,
		"status_url":   "/generate/" + id + "/status",
		"download_url": "/download/" + id,
	})
}

type generateStatusResponse struct {
	Status      string            `json:"status"`
	Phase       string            `json:"phase,omitempty"`
	DownloadURL string            `json:"download_url,omitempty"`
	Error       string            `json:"error,omitempty"`
	AnalysisA   *mix.SongAnalysis `json:"analysis_a,omitempty"`
	AnalysisB   *mix.SongAnalysis `json:"analysis_b,omitempty"`
	Strategy    *mix.Strategy     `json:"strategy,omitempty"`
}

func (s *Server) handleGenerateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := generateStatusResponse{Status: st.Status, Phase: st.Phase, Error: st.Error}
	if st.Status == store.StatusReady {
		resp.DownloadURL = "/download/" + id
	}
	if len(st.Roadmap) > 0 {
		resp.AnalysisA = &st.Roadmap[0].AnalysisA
		resp.AnalysisB = &st.Roadmap[0].AnalysisB
	}
	if len(st.Strategies) > 0 {
		resp.Strategy = &st.Strategies[0]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.streamResult(w, r, "opus_mix.wav")
}

func (s *Server) handleFolderSet(w http.ResponseWriter, r *http.Request) {
	s.streamResult(w, r, "opus_set.wav")
}

// streamResult streams the final WAV. A completed stream removes both the
// session directory and the state record; a partial one keeps them for a
// retry.
func (s *Server) streamResult(w http.ResponseWriter, r *http.Request, downloadName string) {
	id := chi.URLParam(r, "id")
	st, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if st.Status != store.StatusReady || st.ResultPath == "" {
		writeNotFound(w, "set not ready, poll the status endpoint")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="`+downloadName+`"`)
	if err := s.sessions.StreamArtifact(id, st.ResultPath, w); err != nil {
		// Headers are out; nothing to send. The session stays for a retry.
		s.logger.Warn().Err(err).Str(xlog.FieldSessionID, id).Msg("download interrupted")
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.logger.Warn().Err(err).Str(xlog.FieldSessionID, id).Msg("state cleanup after download failed")
	}
}

func (s *Server) handleProcessFolder(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeBadRequest(w, "multipart form required")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) < 2 {
		writeBadRequest(w, "at least 2 tracks are required")
		return
	}

	id := s.sessions.Create()
	for i, header := range files {
		if err := s.saveMultipartTrack(id, i, header); err != nil {
			s.sessions.Delete(id)
			writeError(w, err)
			return
		}
		s.metrics.UploadsAccepted.Inc()
		s.metrics.UploadBytes.Add(float64(header.Size))
	}

	st := &store.State{
		ID:         id,
		Status:     store.StatusUploading,
		CreatedAt:  time.Now().UTC(),
		SessionDir: s.sessions.Dir(id),
	}
	if err := s.store.Put(r.Context(), st); err != nil {
		writeError(w, err)
		return
	}
	if err := s.orch.Submit(r.Context(), id, r.FormValue("user_prompt")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"session_id":    id,
		"status":        store.StatusProcessing,
		"status_url":    "/process-folder/" + id + "/status",
		"set_url":       "/process-folder/" + id + "/set",
		"tracklist_url": "/process-folder/" + id + "/tracklist",
	})
}

func (s *Server) saveMultipartTrack(id string, index int, header *multipart.FileHeader) error {
	f, err := header.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = s.sessions.SaveTrack(id, index, header.Filename, f)
	return err
}

type folderStatusResponse struct {
	Status         string `json:"status"`
	Phase          string `json:"phase,omitempty"`
	CurrentSegment int    `json:"current_segment,omitempty"`
	TotalSegments  int    `json:"total_segments,omitempty"`
	SetURL         string `json:"set_url,omitempty"`
	TracklistURL   string `json:"tracklist_url,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handleFolderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := folderStatusResponse{Status: st.Status, Phase: st.Phase, Error: st.Error}
	if n := len(st.Roadmap); n > 0 {
		resp.TotalSegments = n
		for _, p := range st.SegmentPaths {
			if p != "" {
				resp.CurrentSegment++
			}
		}
	}
	if st.Status == store.StatusReady {
		resp.SetURL = "/process-folder/" + id + "/set"
		resp.TracklistURL = "/process-folder/" + id + "/tracklist"
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFolderTracklist streams the tracklist without touching the session;
// clients typically fetch it before the set itself.
func (s *Server) handleFolderTracklist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if st.TracklistPath == "" {
		writeNotFound(w, "tracklist not ready")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	http.ServeFile(w, r, st.TracklistPath)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed := s.sessions.ReapAbandoned(func(id string) bool {
		_, err := s.store.Get(r.Context(), id)
		return err == nil
	})
	writeJSON(w, http.StatusOK, map[string]int{"removed": len(removed)})
}

func (s *Server) handleAdminGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.admin.Get(r.Context()))
}

func (s *Server) handleAdminUpdate(w http.ResponseWriter, r *http.Request) {
	var upd admin.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeBadRequest(w, "invalid config update")
		return
	}
	cfg, err := s.admin.Apply(r.Context(), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type presetRequest struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

func (s *Server) handleAdminAddPreset(w http.ResponseWriter, r *http.Request) {
	var req presetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeBadRequest(w, "preset requires a name")
		return
	}
	cfg, err := s.admin.AddPreset(r.Context(), req.Name, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleAdminRemovePreset(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.admin.RemovePreset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
