package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/hash/sha256"
	"github.com/JakeFAU/extendspider-console/internal/spider"
)

const (
	maxHistoryLimit = 200
	maxBodyBytes    = 1 << 20
	pluginTimeout   = 5 * time.Second
)

// PluginService is the backend behaviour the handlers expose.
type PluginService interface {
	Config(ctx context.Context, plugin string) (spider.GlobalConfig, error)
	PutConfig(ctx context.Context, plugin string, cfg spider.GlobalConfig) error
	Toggle(ctx context.Context, plugin, name string) (spider.Result, error)
	Reset(ctx context.Context, plugin, name string) (spider.Result, error)
	ResetAll(ctx context.Context, plugin string) (spider.Result, error)
	AddTag(ctx context.Context, plugin, name, tag string) (spider.Result, error)
	RemoveTag(ctx context.Context, plugin, name, tag string) (spider.Result, error)
	Status(ctx context.Context, plugin string) (spider.Status, error)
	History(ctx context.Context, plugin string, limit int) ([]spider.Activity, error)
	Ready(ctx context.Context) error
}

// PluginHandler exposes the plugin operations over HTTP.
type PluginHandler struct {
	svc     PluginService
	hasher  *sha256.Hasher
	timeout time.Duration
	logger  *zap.Logger
}

// NewPluginHandler wires the service and logger.
func NewPluginHandler(svc PluginService, logger *zap.Logger) *PluginHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PluginHandler{
		svc:     svc,
		hasher:  sha256.New(),
		timeout: pluginTimeout,
		logger:  logger,
	}
}

// Toggle handles POST toggle_spider with {"spider_name"}. Business failures
// are 200 with {"success": false, "message"}.
func (h *PluginHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req spider.UnitRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.result(w, r, spider.OpToggle, func(ctx context.Context, plugin string) (spider.Result, error) {
		return h.svc.Toggle(ctx, plugin, req.Name)
	})
}

// Reset handles POST reset_config with {"spider_name"}.
func (h *PluginHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req spider.UnitRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.result(w, r, spider.OpReset, func(ctx context.Context, plugin string) (spider.Result, error) {
		return h.svc.Reset(ctx, plugin, req.Name)
	})
}

// ResetAll handles POST reset_all_config. The body is ignored.
func (h *PluginHandler) ResetAll(w http.ResponseWriter, r *http.Request) {
	h.result(w, r, spider.OpResetAll, func(ctx context.Context, plugin string) (spider.Result, error) {
		return h.svc.ResetAll(ctx, plugin)
	})
}

// AddTag handles POST add_tag with {"spider_name", "tag"}.
func (h *PluginHandler) AddTag(w http.ResponseWriter, r *http.Request) {
	var req spider.TagRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.result(w, r, spider.OpAddTag, func(ctx context.Context, plugin string) (spider.Result, error) {
		return h.svc.AddTag(ctx, plugin, req.Name, req.Tag)
	})
}

// RemoveTag handles POST remove_tag with {"spider_name", "tag"}.
func (h *PluginHandler) RemoveTag(w http.ResponseWriter, r *http.Request) {
	var req spider.TagRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.result(w, r, spider.OpRemove, func(ctx context.Context, plugin string) (spider.Result, error) {
		return h.svc.RemoveTag(ctx, plugin, req.Name, req.Tag)
	})
}

// Status handles GET status and returns the aggregate object.
func (h *PluginHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	st, err := h.svc.Status(ctx, chi.URLParam(r, "plugin"))
	if err != nil {
		h.logger.Error("status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// History handles GET history?limit= and returns a JSON array, newest first.
func (h *PluginHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	items, err := h.svc.History(ctx, chi.URLParam(r, "plugin"), limit)
	if err != nil {
		h.logger.Error("history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// GetConfig handles GET config and returns the merged document with an ETag.
// A matching If-None-Match is answered with 304.
func (h *PluginHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	cfg, err := h.svc.Config(ctx, chi.URLParam(r, "plugin"))
	if err != nil {
		h.logger.Error("load config failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load config")
		return
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		h.logger.Error("encode config failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load config")
		return
	}
	etag := h.hasher.ETag(body)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(append(body, '\n')); err != nil {
		h.logger.Debug("write config failed", zap.Error(err))
	}
}

// PutConfig handles PUT config, replacing the stored document. Invalid
// records are 400.
func (h *PluginHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg spider.GlobalConfig
	if !h.decode(w, r, &cfg) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if err := h.svc.PutConfig(ctx, chi.URLParam(r, "plugin"), cfg); err != nil {
		var verr *spider.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		h.logger.Error("save config failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save config")
		return
	}
	writeJSON(w, http.StatusOK, spider.Result{Success: true})
}

func (h *PluginHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func (h *PluginHandler) result(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	call func(ctx context.Context, plugin string) (spider.Result, error),
) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	res, err := call(ctx, chi.URLParam(r, "plugin"))
	if err != nil {
		h.logger.Error("plugin operation failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseLimit(r *http.Request, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}
