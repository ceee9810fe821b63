// Package api is the gateway's HTTP surface. The generation handler
// orchestrates the full request path: validate, rate-limit, resolve,
// generate, classify, maybe fall back once, respond.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fragmentforge/llm-gateway/internal/auth"
	"github.com/fragmentforge/llm-gateway/internal/circuitbreaker"
	"github.com/fragmentforge/llm-gateway/internal/domain"
	"github.com/fragmentforge/llm-gateway/internal/fallback"
	"github.com/fragmentforge/llm-gateway/internal/metrics"
	"github.com/fragmentforge/llm-gateway/internal/notifications"
	"github.com/fragmentforge/llm-gateway/internal/provider"
	"github.com/fragmentforge/llm-gateway/internal/queue"
	"github.com/fragmentforge/llm-gateway/internal/ratelimit"
	"github.com/fragmentforge/llm-gateway/internal/repository"
	"github.com/fragmentforge/llm-gateway/internal/retry"
	"github.com/fragmentforge/llm-gateway/internal/streaming"
	"github.com/fragmentforge/llm-gateway/internal/structured"
)

type HandlerConfig struct {
	Resolver  *provider.Resolver
	Limiter   *ratelimit.FallbackLimiter
	Breakers  *circuitbreaker.Manager
	Chain     *fallback.Chain
	Policy    fallback.Policy
	Generator *structured.Generator
	Streamer  *streaming.Pipeline

	UsageEvents   queue.Publisher
	GenerationLog repository.GenerationLog
	Notifier      notifications.Notifier
	AdminKeys     *auth.Verifier

	RateLimitMax    int
	RateLimitWindow time.Duration
	RequestTimeout  time.Duration

	Logger *slog.Logger
}

type Handler struct {
	resolver  *provider.Resolver
	limiter   *ratelimit.FallbackLimiter
	breakers  *circuitbreaker.Manager
	chain     *fallback.Chain
	policy    fallback.Policy
	generator *structured.Generator
	streamer  *streaming.Pipeline

	usageEvents   queue.Publisher
	generationLog repository.GenerationLog
	notifier      notifications.Notifier
	adminKeys     *auth.Verifier

	rateLimitMax    int
	rateLimitWindow time.Duration
	requestTimeout  time.Duration

	logger *slog.Logger
	mux    *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		resolver:        cfg.Resolver,
		limiter:         cfg.Limiter,
		breakers:        cfg.Breakers,
		chain:           cfg.Chain,
		policy:          cfg.Policy,
		generator:       cfg.Generator,
		streamer:        cfg.Streamer,
		usageEvents:     cfg.UsageEvents,
		generationLog:   cfg.GenerationLog,
		notifier:        cfg.Notifier,
		adminKeys:       cfg.AdminKeys,
		rateLimitMax:    cfg.RateLimitMax,
		rateLimitWindow: cfg.RateLimitWindow,
		requestTimeout:  cfg.RequestTimeout,
		logger:          logger,
		mux:             http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/generate", h.handleGenerate)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", h.handleHealthReady)
	h.mux.Handle("GET /metrics", promhttp.Handler())
	h.mux.HandleFunc("GET /admin/circuit-breakers", h.handleAdminCircuitBreakers)
	h.mux.HandleFunc("GET /admin/ratelimit", h.handleAdminRateLimit)
	h.mux.HandleFunc("GET /admin/generations", h.handleAdminGenerations)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-Id", requestID)

	var req domain.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.NewSchemaValidationError("request body is not valid JSON"), requestID, "")
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, domain.Classify(err, ""), requestID, req.EffectiveModel())
		return
	}
	req.Normalize()

	clientKey := ratelimit.ClientKey(req.UserID, req.TeamID, r.Header.Get("X-Forwarded-For"))

	limit, _ := h.limiter.Check(r.Context(), clientKey, h.rateLimitMax, h.rateLimitWindow)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.rateLimitMax))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limit.Remaining))
	if !limit.Allowed {
		retryAfter := int(math.Ceil(limit.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		metrics.RecordRateLimitDenial(h.limiter.Mode())
		h.logger.Warn("rate limit exceeded", "client_key", clientKey, "request_id", requestID)
		h.writeError(w, &domain.Error{
			Code:    domain.CodeRateLimited,
			Status:  http.StatusTooManyRequests,
			Message: "rate limit exceeded",
		}, requestID, req.EffectiveModel())
		return
	}

	// One deadline governs the provider call, the decode loop, and the
	// stream; the client disconnecting cancels all of them.
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	if req.Mode.IsStructured() {
		h.handleStructured(ctx, w, req, clientKey, requestID, start)
		return
	}
	h.handleRaw(ctx, w, req, clientKey, requestID, start)
}

// handleStructured runs the fragment decode path with at most one provider
// fallback hop.
func (h *Handler) handleStructured(ctx context.Context, w http.ResponseWriter, req domain.GenerationRequest, clientKey, requestID string, start time.Time) {
	usedReq := req
	fragment, gwErr := h.generateStructured(ctx, usedReq)

	fellBack := false
	if gwErr != nil && ctx.Err() == nil && h.policy.Eligible(gwErr) {
		if alt, ok := h.chain.Next(req.Model.ProviderID); ok {
			h.logger.Info("falling back to alternate provider",
				"from", req.Model.ProviderID,
				"to", alt,
				"code", gwErr.Code,
				"request_id", requestID,
			)
			metrics.RecordFallback(req.Model.ProviderID, alt, string(usedReq.Mode))
			usedReq = retarget(req, alt)
			fellBack = true
			fragment, gwErr = h.generateStructured(ctx, usedReq)
		}
	}

	providerID := usedReq.Model.ProviderID
	model := usedReq.EffectiveModel()

	if gwErr != nil {
		h.finish(req, usedReq, clientKey, requestID, "error", string(gwErr.Code), fellBack, start)
		h.writeError(w, gwErr, requestID, model)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Provider", providerID)
	w.Header().Set("X-Model", model)
	if fellBack {
		w.Header().Set("X-Fallback", "true")
	}
	json.NewEncoder(w).Encode(fragment)

	h.finish(req, usedReq, clientKey, requestID, "success", "", fellBack, start)
}

// generateStructured resolves, passes the breaker, and runs the decode
// loop for one provider. Resolution failures never count against the
// breaker; neither do decode failures, which are about output shape rather
// than provider health.
func (h *Handler) generateStructured(ctx context.Context, req domain.GenerationRequest) (*domain.Fragment, *domain.Error) {
	providerID := req.Model.ProviderID

	client, err := h.resolver.Resolve(ctx, req.Model, req.Config)
	if err != nil {
		return nil, domain.Classify(err, providerID)
	}

	cb := h.breakers.Get(providerID)
	if err := cb.Allow(ctx); err != nil {
		return nil, domain.Classify(err, providerID)
	}

	fragment, err := h.generator.Generate(ctx, client, req)
	if err != nil {
		gwErr := domain.Classify(err, providerID)
		metrics.RecordProviderError(providerID, string(gwErr.Code))
		metrics.RecordDecodeAttempt(providerID, "failure")
		if gwErr.Code != domain.CodeSchemaValidation {
			h.recordBreakerFailure(ctx, providerID)
		}
		return nil, gwErr
	}

	h.recordBreakerSuccess(ctx, providerID)
	metrics.RecordDecodeAttempt(providerID, "success")
	return fragment, nil
}

// handleRaw streams tokens straight through. Fallback is only possible
// before the first token: once bytes are on the wire the response is
// committed.
func (h *Handler) handleRaw(ctx context.Context, w http.ResponseWriter, req domain.GenerationRequest, clientKey, requestID string, start time.Time) {
	usedReq := req
	first, hasFirst, tokens, errs, gwErr := h.openStream(ctx, usedReq)

	fellBack := false
	if gwErr != nil && ctx.Err() == nil && h.policy.Eligible(gwErr) {
		if alt, ok := h.chain.RawAlternate(req.Model.ProviderID); ok {
			h.logger.Info("raw stream falling back to aggregator",
				"from", req.Model.ProviderID,
				"to", alt,
				"code", gwErr.Code,
				"request_id", requestID,
			)
			metrics.RecordFallback(req.Model.ProviderID, alt, string(domain.ModeRaw))
			usedReq = retarget(req, alt)
			fellBack = true
			first, hasFirst, tokens, errs, gwErr = h.openStream(ctx, usedReq)
		}
	}

	providerID := usedReq.Model.ProviderID
	model := usedReq.EffectiveModel()

	if gwErr != nil {
		h.finish(req, usedReq, clientKey, requestID, "error", string(gwErr.Code), fellBack, start)
		h.writeError(w, gwErr, requestID, model)
		return
	}

	w.Header().Set("X-Provider", providerID)
	w.Header().Set("X-Model", model)
	if fellBack {
		w.Header().Set("X-Fallback", "true")
	}

	if hasFirst {
		tokens = streaming.Prepend(ctx, first, tokens)
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	if err := h.streamer.Run(ctx, w, tokens, errs); err != nil {
		gwErr := domain.Classify(err, providerID)
		metrics.RecordProviderError(providerID, string(gwErr.Code))
		h.recordBreakerFailure(ctx, providerID)
		h.finish(req, usedReq, clientKey, requestID, "error", string(gwErr.Code), fellBack, start)
		return
	}

	h.recordBreakerSuccess(ctx, providerID)
	h.finish(req, usedReq, clientKey, requestID, "success", "", fellBack, start)
}

// openStream resolves a client, passes the breaker, starts the stream, and
// waits for the first token so pre-stream failures can still be classified
// and fallen back from.
func (h *Handler) openStream(ctx context.Context, req domain.GenerationRequest) (string, bool, <-chan string, <-chan error, *domain.Error) {
	providerID := req.Model.ProviderID

	client, err := h.resolver.Resolve(ctx, req.Model, req.Config)
	if err != nil {
		return "", false, nil, nil, domain.Classify(err, providerID)
	}

	cb := h.breakers.Get(providerID)
	if err := cb.Allow(ctx); err != nil {
		return "", false, nil, nil, domain.Classify(err, providerID)
	}

	tokens, errs := client.Stream(ctx, req)

	for {
		select {
		case token, ok := <-tokens:
			if !ok {
				// Empty stream with no error: let the pipeline emit the
				// sentinel for an empty completion.
				return "", false, tokens, errs, nil
			}
			return token, true, tokens, errs, nil

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			gwErr := domain.Classify(err, providerID)
			metrics.RecordProviderError(providerID, string(gwErr.Code))
			h.recordBreakerFailure(ctx, providerID)
			return "", false, nil, nil, gwErr

		case <-ctx.Done():
			return "", false, nil, nil, domain.Classify(ctx.Err(), providerID)
		}
	}
}

// retarget redirects a request at an alternate provider, dropping the
// per-request credential and model overrides that belonged to the original
// one.
func retarget(req domain.GenerationRequest, providerID string) domain.GenerationRequest {
	out := req
	out.Model = domain.ModelDescriptor{
		ID:         defaultModels[providerID],
		Name:       defaultModels[providerID],
		Provider:   providerID,
		ProviderID: providerID,
	}
	out.ModelOverride = ""
	out.Config.Model = ""
	out.Config.APIKey = ""
	out.Config.BaseURL = ""
	return out
}

// defaultModels names the model used when a fallback hop retargets a
// request at a provider the caller did not pick.
var defaultModels = map[string]string{
	"openai":     "gpt-4o",
	"anthropic":  "claude-3-5-sonnet-20241022",
	"google":     "gemini-2.0-flash",
	"groq":       "llama-3.3-70b-versatile",
	"fireworks":  "accounts/fireworks/models/llama-v3p1-70b-instruct",
	"together":   "meta-llama/Llama-3.3-70B-Instruct-Turbo",
	"deepseek":   "deepseek-chat",
	"xai":        "grok-2-latest",
	"mistral":    "mistral-large-latest",
	"openrouter": "openrouter/auto",
	"ollama":     "llama3",
	"bedrock":    "anthropic.claude-3-5-sonnet-20241022-v2:0",
}

func (h *Handler) recordBreakerSuccess(ctx context.Context, providerID string) {
	cb := h.breakers.Get(providerID)
	cb.RecordSuccess(ctx)
	metrics.SetCircuitBreakerState(providerID, int(cb.State(ctx)))
}

func (h *Handler) recordBreakerFailure(ctx context.Context, providerID string) {
	cb := h.breakers.Get(providerID)
	before := cb.State(ctx)
	cb.RecordFailure(ctx)
	after := cb.State(ctx)
	metrics.SetCircuitBreakerState(providerID, int(after))

	if before != circuitbreaker.StateOpen && after == circuitbreaker.StateOpen {
		h.logger.Error("circuit breaker opened", "provider", providerID)
		if h.notifier != nil {
			go func() {
				alertCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				err := h.notifier.Send(alertCtx, notifications.Alert{
					Type:     notifications.AlertCircuitOpen,
					Provider: providerID,
					Message:  "circuit breaker opened for provider " + providerID,
				})
				if err != nil {
					h.logger.Warn("failed to send circuit breaker alert", "error", err)
				}
			}()
		}
	}
}

// finish records the request outcome everywhere it needs to go: the log
// line, the metrics, the usage queue, and the generation log. It never
// blocks the response.
func (h *Handler) finish(original, used domain.GenerationRequest, clientKey, requestID, outcome, errorCode string, fellBack bool, start time.Time) {
	latency := time.Since(start)
	providerID := used.Model.ProviderID
	model := used.EffectiveModel()
	mode := string(used.Mode)
	if mode == "" {
		mode = string(domain.ModeText)
	}

	h.logger.Info("generation finished",
		"request_id", requestID,
		"client_key", clientKey,
		"provider", providerID,
		"model", model,
		"mode", mode,
		"outcome", outcome,
		"fallback", fellBack,
		"latency_ms", latency.Milliseconds(),
	)
	metrics.RecordRequest(providerID, model, mode, outcome, latency.Seconds())

	event := queue.UsageEvent{
		RequestID: requestID,
		ClientKey: clientKey,
		Provider:  providerID,
		Model:     model,
		Mode:      mode,
		Outcome:   outcome,
		Fallback:  fellBack,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: time.Now(),
	}
	record := repository.GenerationRecord{
		RequestID: requestID,
		ClientKey: clientKey,
		Provider:  providerID,
		Model:     model,
		Mode:      mode,
		Template:  original.Template,
		Outcome:   outcome,
		ErrorCode: errorCode,
		Fallback:  fellBack,
		LatencyMs: latency.Milliseconds(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		backoff := retry.Config{MaxRetries: 2, BaseDelay: 200 * time.Millisecond}
		if h.usageEvents != nil {
			err := retry.Do(ctx, backoff, func() error {
				return h.usageEvents.Publish(ctx, event)
			})
			if err != nil {
				h.logger.Warn("failed to publish usage event", "error", err, "request_id", requestID)
			}
		}
		if h.generationLog != nil {
			err := retry.Do(ctx, backoff, func() error {
				return h.generationLog.Record(ctx, record)
			})
			if err != nil {
				h.logger.Warn("failed to record generation", "error", err, "request_id", requestID)
			}
		}
	}()
}

func (h *Handler) writeError(w http.ResponseWriter, gwErr *domain.Error, requestID, model string) {
	details := &domain.ErrorDetails{
		Provider:  gwErr.Provider,
		Model:     model,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gwErr.Status)
	json.NewEncoder(w).Encode(gwErr.Envelope(details))
}
