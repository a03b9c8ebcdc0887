// Copyright 2026 ModelRelay
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"modelrelay/core/llm/circuitbreaker"
	"modelrelay/core/llm/sdk"
	"modelrelay/core/shared/logger"
)

// Options configures a Dispatcher. Zero values get sensible defaults.
type Options struct {
	// Adapters is the protocol adapter set. Nil gets an empty set; callers
	// register adapters for the families they use.
	Adapters *AdapterSet

	// Credentials resolves API keys per family. Nil uses EnvCredentials.
	Credentials CredentialStore

	// Retry bounds per-attempt retries inside one send.
	Retry sdk.RetryConfig

	// Breaker configures the per-provider circuit breakers.
	Breaker circuitbreaker.Settings

	// Fallbacks is the model fallback table. Nil uses the built-in table.
	Fallbacks *FallbackTable

	// FailoverEnabled turns automatic model failover on.
	FailoverEnabled bool

	// MaxFailoverHops bounds the failover chain. Zero means 3.
	MaxFailoverHops int

	// Logger receives structured pipeline events. Nil creates one.
	Logger *logger.Logger

	// Metrics receives prometheus observations. Nil disables metrics.
	Metrics *Metrics
}

// Dispatcher is the public facade of the dispatch layer. It holds the active
// provider configuration and threads the circuit breaker, retry executor,
// sanitizer, protocol adapters, and failover orchestration together.
//
// Each Send or Stream works on a value snapshot of the configuration, so
// concurrent calls are safe and failover never mutates the caller's config.
// Multiple dispatchers with independent configurations coexist in one
// process.
type Dispatcher struct {
	mu  sync.Mutex
	cfg Config

	adapters  *AdapterSet
	creds     CredentialStore
	retry     sdk.RetryConfig
	breakers  *circuitbreaker.Registry
	fallbacks *FallbackTable

	failoverEnabled bool
	maxHops         int

	log     *logger.Logger
	metrics *Metrics
}

// NewDispatcher creates a Dispatcher with the given active configuration.
func NewDispatcher(cfg Config, opts Options) *Dispatcher {
	if opts.Adapters == nil {
		opts.Adapters = NewAdapterSet()
	}
	if opts.Credentials == nil {
		opts.Credentials = EnvCredentials{}
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = sdk.DefaultRetryConfig()
	}
	if opts.Fallbacks == nil {
		opts.Fallbacks = NewFallbackTable()
	}
	if opts.MaxFailoverHops <= 0 {
		opts.MaxFailoverHops = 3
	}
	if opts.Logger == nil {
		opts.Logger = logger.New("dispatcher")
	}

	d := &Dispatcher{
		cfg:             cfg,
		adapters:        opts.Adapters,
		creds:           opts.Credentials,
		retry:           opts.Retry,
		fallbacks:       opts.Fallbacks,
		failoverEnabled: opts.FailoverEnabled,
		maxHops:         opts.MaxFailoverHops,
		log:             opts.Logger,
		metrics:         opts.Metrics,
	}

	breakerSettings := opts.Breaker
	if breakerSettings.FailureThreshold == 0 && breakerSettings.ResetTimeout == 0 {
		breakerSettings = circuitbreaker.DefaultSettings()
	}
	userCallback := breakerSettings.OnStateChange
	breakerSettings.OnStateChange = func(name string, from, to circuitbreaker.State) {
		d.log.Warn("", "circuit breaker state change", map[string]interface{}{
			"provider": name,
			"from":     string(from),
			"to":       string(to),
		})
		d.metrics.observeBreakerState(name, string(to))
		if userCallback != nil {
			userCallback(name, from, to)
		}
	}
	d.breakers = circuitbreaker.NewRegistry(breakerSettings)

	return d
}

// Config returns a snapshot of the active configuration.
func (d *Dispatcher) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// ConfigUpdate is a partial configuration change. Nil fields are left as-is;
// set fields are merged into the active configuration one by one.
type ConfigUpdate struct {
	Provider    *Family
	APIKey      *string
	Model       *string
	BaseURL     *string
	Temperature *float64
	MaxTokens   *int
}

// UpdateConfig merges the update into the active configuration. If the
// provider changes without an explicit credential, the credential for the new
// provider is re-resolved from the credential store.
func (d *Dispatcher) UpdateConfig(update ConfigUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()

	providerChanged := false
	if update.Provider != nil && *update.Provider != d.cfg.Provider {
		d.cfg.Provider = *update.Provider
		providerChanged = true
	}
	if update.Model != nil {
		d.cfg.Model = *update.Model
	}
	if update.BaseURL != nil {
		d.cfg.BaseURL = *update.BaseURL
	}
	if update.Temperature != nil {
		d.cfg.Temperature = *update.Temperature
	}
	if update.MaxTokens != nil {
		d.cfg.MaxTokens = *update.MaxTokens
	}

	switch {
	case update.APIKey != nil:
		d.cfg.APIKey = *update.APIKey
	case providerChanged:
		key, _ := d.creds.Lookup(d.cfg.Provider)
		d.cfg.APIKey = key
	}
}

// Send dispatches the conversation and blocks until the complete answer is
// available.
func (d *Dispatcher) Send(ctx context.Context, turns []Turn) (string, error) {
	requestID := uuid.NewString()
	cfg := d.Config()

	start := time.Now()
	result, err := d.send(ctx, cfg, turns, 0, requestID)
	if err != nil {
		d.log.ErrorWithErr(requestID, "send failed", err, map[string]interface{}{
			"provider": string(cfg.Provider),
			"model":    cfg.Model,
		})
		return "", err
	}

	d.log.InfoWithDuration(requestID, "send completed",
		float64(time.Since(start).Milliseconds()), map[string]interface{}{
			"provider": string(cfg.Provider),
			"model":    cfg.Model,
		})
	return result, nil
}

// Stream dispatches the conversation and returns an unbuffered channel of
// fragments. The producer writes in lock-step with the consumer, so the
// adapter never reads ahead of the caller. The channel always ends with a
// chunk whose Done is true; a failed pipeline reports the reason in that
// chunk's Error field, preserving any content already delivered.
func (d *Dispatcher) Stream(ctx context.Context, turns []Turn) (<-chan StreamChunk, error) {
	requestID := uuid.NewString()
	cfg := d.Config()

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)

		delivered := false
		emit := func(chunk StreamChunk) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ch <- chunk:
				return nil
			}
		}

		err := d.streamSend(ctx, cfg, turns, 0, requestID, emit, &delivered)
		if err != nil {
			// Errors are stream data here, not Go errors: terminal chunk
			// carries the reason.
			_ = emit(StreamChunk{Done: true, Error: err.Error()})
			return
		}
		_ = emit(StreamChunk{Done: true})
	}()

	return ch, nil
}

// resolveCredential fills in the snapshot's API key from the store when the
// config omits one. A provider with a credential scheme but no resolvable key
// is a configuration error.
func (d *Dispatcher) resolveCredential(cfg *Config) error {
	if cfg.APIKey != "" {
		return nil
	}
	key, ok := d.creds.Lookup(cfg.Provider)
	if !ok {
		return ConfigError(cfg.Provider, fmt.Sprintf("no credential available for provider %q", cfg.Provider))
	}
	cfg.APIKey = key
	return nil
}

// send runs one hop of the blocking pipeline: breaker gate, sanitizer, retry
// executor, adapter, breaker accounting, then failover on terminal failure.
func (d *Dispatcher) send(ctx context.Context, cfg Config, turns []Turn, hop int, requestID string) (string, error) {
	if err := d.resolveCredential(&cfg); err != nil {
		return d.failover(ctx, cfg, turns, hop, requestID, err)
	}

	adapter, err := d.adapters.Get(cfg.Provider)
	if err != nil {
		return "", err
	}

	// Allow reserves a half-open probe slot, so it must be the last gate
	// before the attempt: any early return after it would strand the slot.
	breaker := d.breakers.Get(string(cfg.Provider))
	if !breaker.Allow() {
		err := &Error{
			Kind:     KindTransient,
			Provider: cfg.Provider,
			Message:  "circuit breaker open",
		}
		return d.failover(ctx, cfg, turns, hop, requestID, err)
	}

	prepared := SanitizeForFamily(cfg.Provider, turns)

	start := time.Now()
	result, err := sdk.RetryWithBackoff(ctx, d.retryConfig(cfg.Provider, requestID), func(ctx context.Context) (string, error) {
		return adapter.Complete(ctx, cfg, prepared)
	})

	if KindOf(err) == KindCancelled {
		// Cancellation exits all layers without touching breaker state.
		return "", err
	}

	if err != nil {
		breaker.RecordFailure()
		d.metrics.observeRequest(cfg.Provider, "error", time.Since(start).Seconds())
		return d.failover(ctx, cfg, turns, hop, requestID, err)
	}

	breaker.RecordSuccess()
	d.metrics.observeRequest(cfg.Provider, "success", time.Since(start).Seconds())
	return result, nil
}

// streamSend is the streaming counterpart of send. Retry and failover only
// apply while nothing has been delivered to the consumer; after the first
// forwarded fragment a failure is terminal, so partial content is never
// duplicated by a second attempt.
func (d *Dispatcher) streamSend(ctx context.Context, cfg Config, turns []Turn, hop int, requestID string, emit func(StreamChunk) error, delivered *bool) error {
	if err := d.resolveCredential(&cfg); err != nil {
		return d.streamFailover(ctx, cfg, turns, hop, requestID, err, emit, delivered)
	}

	adapter, err := d.adapters.Get(cfg.Provider)
	if err != nil {
		return err
	}

	breaker := d.breakers.Get(string(cfg.Provider))
	if !breaker.Allow() {
		err := &Error{
			Kind:     KindTransient,
			Provider: cfg.Provider,
			Message:  "circuit breaker open",
		}
		return d.streamFailover(ctx, cfg, turns, hop, requestID, err, emit, delivered)
	}

	prepared := SanitizeForFamily(cfg.Provider, turns)

	handler := func(chunk StreamChunk) error {
		if chunk.Done {
			// The pipeline owns stream termination; adapters' terminators
			// are framing, not content.
			return nil
		}
		if chunk.Content == "" {
			return nil
		}
		*delivered = true
		return emit(chunk)
	}

	retryCfg := d.retryConfig(cfg.Provider, requestID)
	baseRetryIf := retryCfg.RetryIf
	retryCfg.RetryIf = func(err error) bool {
		if *delivered {
			return false
		}
		if baseRetryIf != nil {
			return baseRetryIf(err)
		}
		return Retryable(err)
	}

	start := time.Now()
	_, err = sdk.RetryWithBackoff(ctx, retryCfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, adapter.Stream(ctx, cfg, prepared, handler)
	})

	if KindOf(err) == KindCancelled {
		return err
	}

	if err != nil {
		breaker.RecordFailure()
		d.metrics.observeRequest(cfg.Provider, "error", time.Since(start).Seconds())
		if *delivered {
			// Content already reached the consumer; switching models now
			// would splice two answers together.
			return err
		}
		return d.streamFailover(ctx, cfg, turns, hop, requestID, err, emit, delivered)
	}

	breaker.RecordSuccess()
	d.metrics.observeRequest(cfg.Provider, "success", time.Since(start).Seconds())
	return nil
}

// failover picks the next usable fallback candidate and re-enters the full
// pipeline for it. The cause is returned unchanged when failover is disabled,
// exhausted, or not justified by the error kind.
func (d *Dispatcher) failover(ctx context.Context, cfg Config, turns []Turn, hop int, requestID string, cause error) (string, error) {
	next, ok := d.nextCandidate(cfg, hop, cause, requestID)
	if !ok {
		return "", cause
	}
	return d.send(ctx, next, turns, hop+1, requestID)
}

func (d *Dispatcher) streamFailover(ctx context.Context, cfg Config, turns []Turn, hop int, requestID string, cause error, emit func(StreamChunk) error, delivered *bool) error {
	next, ok := d.nextCandidate(cfg, hop, cause, requestID)
	if !ok {
		return cause
	}

	// Synthetic notice so the caller can render the transition instead of
	// silently swapping content.
	if err := emit(StreamChunk{Content: fmt.Sprintf("[switching to model %s…]\n\n", next.Model)}); err != nil {
		return TransportError(cfg.Provider, err)
	}

	return d.streamSend(ctx, next, turns, hop+1, requestID, emit, delivered)
}

// nextCandidate decides whether another hop is allowed and builds the
// config snapshot for the first usable fallback candidate.
func (d *Dispatcher) nextCandidate(cfg Config, hop int, cause error, requestID string) (Config, bool) {
	if !d.failoverEnabled || hop >= d.maxHops || !FailoverEligible(cause) {
		return Config{}, false
	}

	candidates := d.fallbacks.UsableCandidates(cfg.Model, d.creds)
	if len(candidates) == 0 {
		d.log.Warn(requestID, "no fallback models available", map[string]interface{}{
			"model": cfg.Model,
		})
		return Config{}, false
	}

	nextModel := candidates[0]
	next := cfg
	next.Model = nextModel
	next.Provider = FamilyForModel(nextModel)
	next.APIKey, _ = d.creds.Lookup(next.Provider)
	// Endpoint overrides are provider-specific and do not carry across
	// families.
	if next.Provider != cfg.Provider {
		next.BaseURL = ""
	}

	d.metrics.observeFailover(cfg.Provider)
	d.log.Warn(requestID, "failing over", map[string]interface{}{
		"from_model": cfg.Model,
		"to_model":   nextModel,
		"provider":   string(next.Provider),
		"hop":        hop + 1,
		"cause":      cause.Error(),
	})

	return next, true
}

// retryConfig attaches per-dispatch observability to the retry settings.
func (d *Dispatcher) retryConfig(provider Family, requestID string) sdk.RetryConfig {
	cfg := d.retry
	if cfg.RetryIf == nil {
		cfg.RetryIf = Retryable
	}
	userHook := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		d.metrics.observeRetry(provider)
		d.log.Warn(requestID, "retrying after error", map[string]interface{}{
			"provider": string(provider),
			"attempt":  attempt,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})
		if userHook != nil {
			userHook(attempt, err, delay)
		}
	}
	return cfg
}
