package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"claudebridge/internal/api"
	"claudebridge/internal/auth"
	"claudebridge/internal/config"
	"claudebridge/internal/logger"
	"claudebridge/internal/model"
	"claudebridge/internal/service"
	"claudebridge/internal/state"
	"claudebridge/internal/thinking"
	"claudebridge/internal/usage"
	"claudebridge/internal/wire"
)

const maxRequestBody = 32 << 20

// Proxy is the chat-completions pipeline: resolve the model, rewrite the
// request, re-attach cached thinking blocks, dispatch upstream and translate
// the response back into the client's dialect.
type Proxy struct {
	Auth   *auth.Manager
	Cache  *thinking.Cache
	Client *service.Client
}

// NewProxy wires the pipeline.
func NewProxy(mgr *auth.Manager, cache *thinking.Cache, client *service.Client) *Proxy {
	return &Proxy{Auth: mgr, Cache: cache, Client: client}
}

// Completions serves POST /v1/chat/completions and POST /v1/messages. The
// response dialect follows the route: chat-completions clients get OpenAI
// chunks, messages clients get the upstream Anthropic stream as-is. A request
// carrying system-role messages is OpenAI-shaped regardless of route.
func (p *Proxy) Completions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request_error", "", "failed to read request body")
		return
	}

	var req wire.ProxyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request_error", "", "invalid JSON body")
		return
	}

	if IsKeyProbe(&req) {
		slog.Debug("answering key probe locally", "model", req.Model)
		WriteKeyProbeReply(w, &req)
		return
	}

	// Foreign models are refused with a 404 so multi-provider clients fall
	// back to their own provider instead of erroring out.
	if !model.IsClaudeFamily(req.Model) {
		api.WriteError(w, http.StatusNotFound, "invalid_request_error", "model_not_supported_by_proxy",
			fmt.Sprintf("model %q is not served by this proxy", req.Model))
		return
	}

	variant := model.Resolve(req.Model)
	p.logRequest(r, &req, variant)

	body := BuildUpstreamBody(&req, variant)

	token, err := p.Auth.AccessToken(r.Context())
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			api.WriteAuthRequired(w)
			return
		}
		api.ForwardError(w, err)
		return
	}

	downgraded := false
	if body.Request.Thinking != nil {
		res := p.Cache.Inject(r.Context(), body.Request.Messages)
		if !res.CanUseThinking {
			// History has assistant turns whose thinking blocks are gone and
			// not cached; the upstream would reject them. Degrade silently to
			// a non-thinking call rather than fail the request.
			DisableThinking(body)
			downgraded = true
			slog.Info("thinking downgraded, cached blocks missing",
				"model", req.Model, "injected", res.Injected, "missing", res.Missing)
		} else if res.Injected > 0 {
			slog.Debug("thinking blocks injected", "count", res.Injected)
		}
	}

	thinkingOn := body.Request.Thinking != nil
	payload, err := json.Marshal(body.Request)
	if err != nil {
		api.ForwardError(w, err)
		return
	}

	headers := api.BuildMessagesHeaders(token, req.Stream, thinkingOn)
	resp, err := p.Client.ProxyMessages(r.Context(), payload, headers)
	if err != nil {
		api.WriteError(w, http.StatusBadGateway, "upstream_error", "", err.Error())
		return
	}
	defer resp.Body.Close()

	rec := state.RequestRecord{
		Timestamp:       start,
		Path:            r.URL.Path,
		Model:           req.Model,
		UpstreamModel:   body.Request.Model,
		Streaming:       req.Stream,
		ThinkingEnabled: thinkingOn,
		Downgraded:      downgraded,
		StatusCode:      resp.StatusCode,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.forwardUpstreamError(w, resp)
		rec.LatencyMs = time.Since(start).Milliseconds()
		state.Metrics.RecordRequest(rec)
		return
	}

	openAI := strings.HasSuffix(r.URL.Path, "/chat/completions") || body.HadSystemRole

	switch {
	case req.Stream && openAI:
		p.streamTranslated(w, r, resp, &req, &rec)
	case req.Stream:
		p.streamPassthrough(w, r, resp)
	case openAI:
		p.respondTranslated(w, resp, &req, &rec)
	default:
		p.respondPassthrough(w, resp)
	}

	rec.LatencyMs = time.Since(start).Milliseconds()
	state.Metrics.RecordRequest(rec)
}

// MethodGuidance answers GET on the completion routes with a hint instead of
// a bare 405 page.
func MethodGuidance(w http.ResponseWriter, r *http.Request) {
	api.WriteError(w, http.StatusMethodNotAllowed, "invalid_request_error", "",
		"use POST with a JSON body; this endpoint does not serve GET")
}

func (p *Proxy) logRequest(r *http.Request, req *wire.ProxyRequest, variant model.Variant) {
	sum := usage.Extract(req)
	slog.Info("chat completion request",
		"model", req.Model,
		"upstream_model", variant.UpstreamModel,
		"stream", req.Stream,
		"thinking", variant.ThinkingEnabled(),
		"messages", sum.MessageCount,
		"tools", sum.ToolCount,
		"est_tokens", sum.EstimatedTokens,
	)
	if config.Get().Debug {
		logger.For("chat-completions").Log("model=%s upstream=%s stream=%v msgs=%d tools=%d est_tokens=%d files=%v mentions=%v",
			req.Model, variant.UpstreamModel, req.Stream,
			sum.MessageCount, sum.ToolCount, sum.EstimatedTokens,
			sum.FileReferences, sum.Mentions)
	}
}

// forwardUpstreamError relays a non-2xx upstream response. A 401 is reshaped
// since the raw upstream body is unhelpful to API clients.
func (p *Proxy) forwardUpstreamError(w http.ResponseWriter, resp *http.Response) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusUnauthorized {
		slog.Warn("upstream rejected credential", "body", string(body))
		api.WriteError(w, http.StatusUnauthorized, "authentication_error", "",
			"upstream authentication failed; the OAuth token may be expired or revoked, try logging in again")
		return
	}

	slog.Warn("upstream error", "status", resp.StatusCode, "body", string(body))
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

func (p *Proxy) respondTranslated(w http.ResponseWriter, resp *http.Response, req *wire.ProxyRequest, rec *state.RequestRecord) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		api.ForwardError(w, err)
		return
	}

	var upstream wire.AnthropicResponse
	if err := json.Unmarshal(body, &upstream); err != nil {
		api.ForwardError(w, fmt.Errorf("decoding upstream response: %w", err))
		return
	}

	rec.InputTokens = int64(upstream.Usage.InputTokens)
	rec.OutputTokens = int64(upstream.Usage.OutputTokens)
	rec.CachedTokens = int64(upstream.Usage.CacheReadInputTokens)
	rec.StopReason = upstream.StopReason

	p.cacheFromBlocks(upstream.Content)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ConvertResponse(&upstream, req.Model))
}

func (p *Proxy) respondPassthrough(w http.ResponseWriter, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		api.ForwardError(w, err)
		return
	}

	var upstream wire.AnthropicResponse
	if json.Unmarshal(body, &upstream) == nil {
		p.cacheFromBlocks(upstream.Content)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// streamTranslated pumps the upstream SSE body through the stream converter
// and writes OpenAI chunks. The read loop hands the converter raw byte chunks
// exactly as the network delivers them.
func (p *Proxy) streamTranslated(w http.ResponseWriter, r *http.Request, resp *http.Response, req *wire.ProxyRequest, rec *state.RequestRecord) {
	flusher, _ := w.(http.Flusher)
	copyStreamHeaders(w.Header(), resp.Header)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	conv := NewStreamConverter(req.Model)
	buf := make([]byte, 4096)
	clientGone := false

	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, frame := range conv.Feed(buf[:n]) {
				if clientGone {
					continue
				}
				if frame.Done {
					fmt.Fprint(w, "data: [DONE]\n\n")
				} else {
					data, merr := json.Marshal(frame.Chunk)
					if merr != nil {
						continue
					}
					fmt.Fprintf(w, "data: %s\n\n", data)
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Warn("upstream stream read failed", "error", err)
			}
			break
		}
		if r.Context().Err() != nil {
			clientGone = true
		}
	}

	in, out, cached := conv.TokenCounts()
	rec.InputTokens = int64(in)
	rec.OutputTokens = int64(out)
	rec.CachedTokens = int64(cached)
	rec.StopReason = conv.StopReason()

	// Cache the signed thinking block only for complete, client-observed
	// streams; a truncated or abandoned stream may hold a partial block.
	if conv.Done() && !clientGone {
		if block, ok := conv.CapturedThinking(); ok {
			content := thinking.CanonicalContent(conv.AccumulatedText(), conv.ToolUses())
			if key, keyed := thinking.ContentKey(content); keyed {
				p.Cache.Put(key, block)
			}
		}
	}
}

// streamPassthrough pipes the upstream SSE body to the client verbatim.
func (p *Proxy) streamPassthrough(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	copyStreamHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				slog.Warn("upstream stream read failed", "error", err)
			}
			return
		}
		if r.Context().Err() != nil {
			return
		}
	}
}

// cacheFromBlocks stores the thinking block of a complete non-streaming
// response under its content key.
func (p *Proxy) cacheFromBlocks(blocks []wire.ContentBlock) {
	var thinkingBlock *wire.ContentBlock
	var rest []wire.ContentBlock
	for i := range blocks {
		if blocks[i].IsThinking() {
			if thinkingBlock == nil {
				thinkingBlock = &blocks[i]
			}
			continue
		}
		rest = append(rest, blocks[i])
	}
	if thinkingBlock == nil {
		return
	}
	if key, ok := thinking.ContentKey(rest); ok {
		p.Cache.Put(key, *thinkingBlock)
	}
}

// copyStreamHeaders forwards upstream response headers, dropping the ones the
// proxy must own because the body is re-chunked.
func copyStreamHeaders(dst, src http.Header) {
	for k, vals := range src {
		switch strings.ToLower(k) {
		case "content-length", "content-encoding", "transfer-encoding", "connection":
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
	if dst.Get("Content-Type") == "" {
		dst.Set("Content-Type", "text/event-stream")
	}
}
