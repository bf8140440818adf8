package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/verum/verum-indexer/internal/logging"
	"github.com/verum/verum-indexer/internal/protocol"
	"github.com/verum/verum-indexer/internal/service"
)

type Handler struct {
	indexer *service.Indexer
	logger  *slog.Logger
}

func NewHandler(ix *service.Indexer, logger *slog.Logger) *Handler {
	return &Handler{indexer: ix, logger: logger}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /v1/users/{address}/chain", h.handleUserChain)
	mux.HandleFunc("GET /v1/users/{address}/subscriptions", h.handleUserSubscriptions)
	mux.HandleFunc("GET /v1/stories/{id}", h.handleStory)
	mux.HandleFunc("GET /v1/content/{id}/likes", h.handleLikes)
	mux.HandleFunc("GET /v1/content/{id}/comments", h.handleComments)
	mux.HandleFunc("GET /v1/content/{id}/engagement", h.handleEngagement)
	mux.HandleFunc("POST /v1/cache/clear", h.handleCacheClear)
	mux.HandleFunc("POST /v1/cache/sweep", h.handleCacheSweep)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := h.indexer.Health(r.Context())
	logging.AddField(r.Context(), "op", "health")
	logging.AddField(r.Context(), "ledger_reachable", resp.LedgerReachable)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUserChain(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	limit := queryInt(r, "limit", 50)
	notBefore := queryInt64(r, "not_before", 0)
	resp, err := h.indexer.UserChain(r.Context(), address, limit, notBefore)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "user_chain")
	logging.AddField(r.Context(), "address", address)
	logging.AddField(r.Context(), "chain_length", len(resp.Transactions))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUserSubscriptions(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	limit := queryInt(r, "limit", 50)
	subs, err := h.indexer.UserSubscriptions(r.Context(), address, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "user_subscriptions")
	logging.AddField(r.Context(), "address", address)
	logging.AddField(r.Context(), "subscription_count", len(subs))
	writeJSON(w, http.StatusOK, map[string]any{
		"address":       address,
		"subscriptions": subs,
	})
}

func (h *Handler) handleStory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	resp, err := h.indexer.Story(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "story")
	logging.AddField(r.Context(), "root_id", id)
	logging.AddField(r.Context(), "segment_count", len(resp.Segments))
	logging.AddField(r.Context(), "complete", resp.Complete)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLikes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	likes, err := h.indexer.Likes(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "likes")
	logging.AddField(r.Context(), "target_id", id)
	logging.AddField(r.Context(), "like_count", len(likes))
	writeJSON(w, http.StatusOK, map[string]any{
		"target_id": id,
		"likes":     likes,
	})
}

func (h *Handler) handleComments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	comments, err := h.indexer.Comments(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "comments")
	logging.AddField(r.Context(), "target_id", id)
	logging.AddField(r.Context(), "comment_count", len(comments))
	writeJSON(w, http.StatusOK, map[string]any{
		"target_id": id,
		"comments":  comments,
	})
}

func (h *Handler) handleEngagement(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	actor := r.URL.Query().Get("actor")
	resp, err := h.indexer.Engagement(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "engagement")
	logging.AddField(r.Context(), "target_id", id)
	logging.AddField(r.Context(), "total_engagement", resp.Metrics.TotalEngagement)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	h.indexer.ClearCache()
	logging.AddField(r.Context(), "op", "cache_clear")
	writeJSON(w, http.StatusOK, protocol.CacheStatsResponse{Status: "cleared"})
}

func (h *Handler) handleCacheSweep(w http.ResponseWriter, r *http.Request) {
	swept, remaining := h.indexer.SweepCache()
	logging.AddField(r.Context(), "op", "cache_sweep")
	logging.AddField(r.Context(), "swept", swept)
	writeJSON(w, http.StatusOK, protocol.CacheStatsResponse{
		Swept:     swept,
		Remaining: remaining,
		Status:    "swept",
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *service.AppError
	if errors.As(err, &appErr) {
		logging.AddField(r.Context(), "error_code", appErr.Code)
		logging.AddField(r.Context(), "error_message", appErr.Message)
		writeJSON(w, appErr.HTTPStatus, protocol.ErrorResponse{Error: protocol.ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		}})
		return
	}
	logging.AddField(r.Context(), "error_code", "INTERNAL_ERROR")
	logging.AddField(r.Context(), "error_message", err.Error())
	writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: protocol.ErrorBody{
		Code:      "INTERNAL_ERROR",
		Message:   "internal server error",
		Retryable: true,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func queryInt64(r *http.Request, name string, fallback int64) int64 {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
