package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"claudebridge/internal/model"
	"claudebridge/internal/service"
)

const modelsCacheTTL = 60 * time.Second

// OpenAIModel is one entry of the /v1/models listing.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// staticModels is the fallback catalogue served when the upstream listing is
// unreachable: the aliases this proxy resolves, plus the upstream ids.
var staticModels = []string{
	"claude-4.5-sonnet",
	"claude-4.5-sonnet-thinking",
	"claude-4-sonnet",
	"claude-4-sonnet-thinking",
	"claude-4.1-opus",
	"claude-4.1-opus-thinking",
	"claude-4.5-haiku",
	model.SonnetModel,
	model.OpusModel,
	model.HaikuModel,
}

// Models serves GET /v1/models: the upstream catalogue merged with the
// static alias list, cached briefly since IDE clients poll it.
type Models struct {
	Auth   tokenSource
	Client *service.Client

	mu      sync.Mutex
	cached  []OpenAIModel
	fetched time.Time
}

// tokenSource is the slice of auth.Manager the handler needs.
type tokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

func (h *Models) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(modelList{Object: "list", Data: h.list(r)})
}

func (h *Models) list(r *http.Request) []OpenAIModel {
	h.mu.Lock()
	if h.cached != nil && time.Since(h.fetched) < modelsCacheTTL {
		out := h.cached
		h.mu.Unlock()
		return out
	}
	h.mu.Unlock()

	merged := h.merge(h.fetchUpstream(r))

	h.mu.Lock()
	h.cached = merged
	h.fetched = time.Now()
	h.mu.Unlock()
	return merged
}

func (h *Models) fetchUpstream(r *http.Request) []service.ModelInfo {
	token, err := h.Auth.AccessToken(r.Context())
	if err != nil {
		return nil
	}
	infos, err := h.Client.FetchModels(r.Context(), token)
	if err != nil {
		slog.Debug("upstream models fetch failed", "error", err)
		return nil
	}
	return infos
}

func (h *Models) merge(upstream []service.ModelInfo) []OpenAIModel {
	now := time.Now().Unix()
	seen := make(map[string]bool)
	var out []OpenAIModel

	for _, info := range upstream {
		if seen[info.ID] {
			continue
		}
		seen[info.ID] = true
		created := now
		if t, err := time.Parse(time.RFC3339, info.CreatedAt); err == nil {
			created = t.Unix()
		}
		out = append(out, OpenAIModel{ID: info.ID, Object: "model", Created: created, OwnedBy: "anthropic"})
	}

	for _, id := range staticModels {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, OpenAIModel{ID: id, Object: "model", Created: now, OwnedBy: "anthropic"})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Created != out[j].Created {
			return out[i].Created > out[j].Created
		}
		return out[i].ID < out[j].ID
	})
	return out
}
