package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/gitmonke/go-video-summary/engine"
)

// Handlers wires the Coordinator into the HTTP surface described in the
// engine's external contract.
type Handlers struct {
	engine    *engine.Engine
	validator *validator.Validate
	logger    *slog.Logger
}

func NewHandlers(eng *engine.Engine, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: eng, validator: validator.New(), logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("httpapi: failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// Start handles POST /summary/start.
func (h *Handlers) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.engine.Start(req.VideoPath, req.Force, req.ModelName)
	if err != nil {
		h.logger.Error("start failed", "videoPath", req.VideoPath, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start summarization")
		return
	}
	if !result.Ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"reason":   result.Reason,
			"existing": result.Existing,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"taskId": result.TaskID,
		"status": "processing",
	})
}

// Status handles GET /summary/status/{taskId}.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["taskId"]
	snap, ok := h.engine.Status(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Get handles GET /summary/get?videoPath=….
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	videoPath := r.URL.Query().Get("videoPath")
	result, err := h.engine.GetLatest(videoPath)
	if err != nil {
		h.logger.Error("get latest failed", "videoPath", videoPath, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"found":    result.Found,
		"summary":  result.Summary,
		"versions": result.Versions,
	})
}

// Active handles GET /summary/active?videoPath=….
func (h *Handlers) Active(w http.ResponseWriter, r *http.Request) {
	videoPath := r.URL.Query().Get("videoPath")
	taskID, active := h.engine.FindActiveTask(videoPath)
	if !active {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "taskId": taskID})
}

// Versions handles GET /summary/versions?videoPath=….
func (h *Handlers) Versions(w http.ResponseWriter, r *http.Request) {
	videoPath := r.URL.Query().Get("videoPath")
	versions, err := h.engine.ListVersions(videoPath)
	if err != nil {
		h.logger.Error("list versions failed", "videoPath", videoPath, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load versions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"found":    len(versions) > 0,
		"versions": versions,
	})
}

// Version handles GET /summary/version?videoPath=…&version=N.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	videoPath := r.URL.Query().Get("videoPath")
	version, err := parseVersionParam(r.URL.Query().Get("version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version parameter")
		return
	}

	view, found, err := h.engine.GetVersion(videoPath, version)
	if err != nil {
		h.logger.Error("get version failed", "videoPath", videoPath, "version", version, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load version")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "version not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Delete handles DELETE /summary/delete/{videoPath}.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	videoPath := mux.Vars(r)["videoPath"]
	deleted, err := h.engine.Delete(videoPath)
	if err != nil {
		h.logger.Error("delete failed", "videoPath", videoPath, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete summary")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "summary not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Stats handles GET /summary/stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats()
	if err != nil {
		h.logger.Error("stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Health handles GET /ai-health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	result := h.engine.Health(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"healthy":         result.Healthy,
		"modelsAvailable": result.ModelsAvailable,
		"modelReady":      result.ModelReady,
		"overall":         result.Healthy && result.Err == nil,
	})
}

// Pull handles POST /ai-model/pull.
func (h *Handlers) Pull(w http.ResponseWriter, r *http.Request) {
	var req PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.engine.Pull(r.Context(), req.Name)
	if result.Err != nil {
		h.logger.Error("model pull failed", "model", req.Name, "error", result.Err)
		writeError(w, http.StatusBadGateway, result.Err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": result.Ok, "cached": result.Cached})
}

func parseVersionParam(raw string) (int, error) {
	return strconv.Atoi(raw)
}
