// Package pipeline is the message-processing orchestrator. Process is the
// single entry point: it resolves the session, enforces the security
// ceiling, classifies crisis risk, redacts PII, consults the response cache,
// calls the completion provider with retry, validates and if necessary
// rewrites the reply, and falls back to deterministic templates so a normal
// message never surfaces a provider failure to the caller.
//
// Crisis handling is a hard short-circuit: a crisis message never reaches
// the cache-write or generic completion path, and its reply is produced by
// the provider's crisis mode or, on any provider failure, by the template
// responder, which depends on nothing external.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"companion-core/internal/crisis"
	"companion-core/internal/fallback"
	"companion-core/internal/language"
	"companion-core/internal/logger"
	"companion-core/internal/metrics"
	"companion-core/internal/provider"
	"companion-core/internal/redact"
	"companion-core/internal/respcache"
	"companion-core/internal/session"
)

// ReplySource names which stage of the reply chain produced the final text.
type ReplySource string

// Reply sources.
const (
	SourceProvider ReplySource = "provider"  // raw provider reply passed validation
	SourceEnhanced ReplySource = "enhanced"  // provider reply after the rewrite pass
	SourceCache    ReplySource = "cache"     // served from the response cache
	SourceFallback ReplySource = "fallback"  // deterministic template responder
	SourceCrisis   ReplySource = "crisis"    // provider crisis mode
)

// Request is one inbound user message.
type Request struct {
	SessionID string // empty or stale tokens cause a fresh session
	Message   string
	Locale    string // caller-supplied hint, used when detection fails
	Client    session.RequestInfo
}

// CrisisInfo is the crisis metadata attached to a crisis result.
type CrisisInfo struct {
	Severity        crisis.Severity
	EscalationLevel int
	Resources       []crisis.Resource
	Workflow        []crisis.WorkflowStep
}

// Result is the outcome of processing one message.
type Result struct {
	RequestID string
	SessionID string
	Reply     string
	Locale    string // locale the reply is in
	Cached    bool
	IsCrisis  bool
	Crisis    *CrisisInfo        // nil unless IsCrisis
	PIIFound  []redact.PIIType   // PII types detected in the message
	Source    ReplySource
	Enhanced  bool // reply went through the rewrite pass
}

// Config tunes the orchestrator.
type Config struct {
	ProviderTimeout time.Duration // per-attempt provider deadline
	MaxRetries      int           // retry ceiling for transient provider faults
	HistoryWindow   int           // max prior turns passed as generation context
	DefaultLocale   string        // used when neither detection nor the caller supplies one
	WorkingLocale   string        // locale the provider is prompted in
}

// Deps are the orchestrator's collaborators. Store, Detector, Cache,
// Redactor, Provider, Language, and Fallback are required; Analytics, Log,
// and Metrics may be nil.
type Deps struct {
	Store     *session.Store
	Detector  *crisis.Detector
	Cache     *respcache.Cache
	Redactor  *redact.Redactor
	Provider  provider.CompletionProvider
	Language  language.Adapter
	Fallback  *fallback.Responder
	Analytics AnalyticsSink
	Log       *logger.Logger
	Metrics   *metrics.Metrics
}

// Orchestrator runs the processing pipeline. Safe for concurrent use.
type Orchestrator struct {
	store     *session.Store
	detector  *crisis.Detector
	cache     *respcache.Cache
	redactor  *redact.Redactor
	provider  provider.CompletionProvider
	language  language.Adapter
	fallback  *fallback.Responder
	analytics AnalyticsSink

	log     *logger.Logger
	metrics *metrics.Metrics

	timeout       time.Duration
	maxRetries    int
	historyWindow int
	defaultLocale string
	workingLocale string

	// flight dedupes concurrent provider calls for identical non-crisis
	// (message, locale) pairs.
	flight singleflight.Group
}

// New wires an Orchestrator. Zero config fields get conservative defaults.
func New(cfg Config, d Deps) *Orchestrator {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = "en"
	}
	if cfg.WorkingLocale == "" {
		cfg.WorkingLocale = "en"
	}
	return &Orchestrator{
		store:         d.Store,
		detector:      d.Detector,
		cache:         d.Cache,
		redactor:      d.Redactor,
		provider:      d.Provider,
		language:      d.Language,
		fallback:      d.Fallback,
		analytics:     d.Analytics,
		log:           d.Log,
		metrics:       d.Metrics,
		timeout:       cfg.ProviderTimeout,
		maxRetries:    cfg.MaxRetries,
		historyWindow: cfg.HistoryWindow,
		defaultLocale: cfg.DefaultLocale,
		workingLocale: cfg.WorkingLocale,
	}
}

// Process runs one message through the pipeline. Only security violations
// (rate limit), a completely unconfigured provider, and context cancellation
// surface as errors; every other failure degrades to a template reply.
func (o *Orchestrator) Process(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	requestID := uuid.NewString()
	if o.metrics != nil {
		o.metrics.RequestsTotal.Add(1)
	}

	// Step 1: resolve the session. A missing, malformed, expired, or
	// concurrently-destroyed token gets a fresh session rather than an error.
	sessionID := req.SessionID
	if _, ok := o.store.Get(sessionID); !ok {
		sessionID, _ = o.store.Create(session.CreateOptions{
			Anonymized: true,
			Retention:  "ephemeral",
			Request:    req.Client,
		})
	}
	if err := o.store.ValidateSecurity(sessionID, req.Client); err != nil {
		return Result{}, fmt.Errorf("pipeline: security rejection: %w", err)
	}

	// Step 2: locale. Detection wins; the caller's hint is the fallback.
	locale := o.resolveLocale(ctx, req)

	// Step 3: cache lookup. Entries are only ever written on the non-crisis
	// path, so a hit needs no fresh crisis classification.
	fp := respcache.Fingerprint(req.Message, locale)
	if cached, ok := o.cache.Get(fp); ok {
		if o.metrics != nil {
			o.metrics.RequestsCached.Add(1)
		}
		red := o.redactor.Redact(req.Message)
		o.appendTurns(sessionID, locale, red.Text, cached, turnFlags{cached: true})
		res := Result{
			RequestID: requestID,
			SessionID: sessionID,
			Reply:     cached,
			Locale:    locale,
			Cached:    true,
			PIIFound:  red.Found,
			Source:    SourceCache,
		}
		o.finish(res, start)
		return res, nil
	}

	// Step 4: redact. The pipeline continues on the redacted text; the
	// original never goes further than the fingerprint above.
	red := o.redactor.Redact(req.Message)
	text := red.Text

	// Step 5: crisis short-circuit.
	det := o.detector.Detect(sessionID, text)
	if det.IsCrisis {
		return o.processCrisis(ctx, requestID, sessionID, locale, text, red, det, start)
	}

	// Step 6: translate to the provider's working locale when needed. On
	// translation failure the redacted original is used as-is.
	providerText := text
	if !language.Same(locale, o.workingLocale) {
		if translated, err := o.language.Translate(ctx, text, locale, o.workingLocale); err == nil {
			providerText = translated
		}
	}

	// Steps 6-7: generate and validate, with the fallback chain behind it.
	reply, source, enhanced, err := o.generateValidated(ctx, fp, sessionID, providerText, text)
	if err != nil {
		return Result{}, err
	}

	// Step 8: translate the reply back to the caller's locale when needed.
	if source != SourceCache && !language.Same(o.workingLocale, locale) {
		if translated, terr := o.language.Translate(ctx, reply, o.workingLocale, locale); terr == nil {
			reply = translated
		}
	}

	// Step 9: append both turns only now that the reply is final, then
	// cache it for identical future requests. Template replies are not
	// cached: they stand in for a failed provider call, and caching one
	// would keep serving the degraded reply after the provider recovers.
	o.appendTurns(sessionID, locale, text, reply, turnFlags{})
	if source != SourceFallback {
		o.cache.Put(fp, reply)
	}

	res := Result{
		RequestID: requestID,
		SessionID: sessionID,
		Reply:     reply,
		Locale:    locale,
		PIIFound:  red.Found,
		Source:    source,
		Enhanced:  enhanced,
	}
	o.finish(res, start)
	return res, nil
}

// processCrisis produces the crisis reply and returns immediately: no cache
// write, no generic completion path. The template responder guarantees a
// reply even with the provider fully down.
func (o *Orchestrator) processCrisis(ctx context.Context, requestID, sessionID, locale, text string, red redact.Result, det crisis.Detection, start time.Time) (Result, error) {
	if o.metrics != nil {
		o.metrics.RequestsCrisis.Add(1)
	}

	// The provider is prompted in the working locale, same as the normal
	// path, so the back-translation below is correct for both reply sources.
	providerText := text
	if !language.Same(locale, o.workingLocale) {
		if translated, err := o.language.Translate(ctx, text, locale, o.workingLocale); err == nil {
			providerText = translated
		}
	}
	reply, source := o.crisisReply(ctx, providerText, det.Severity)

	if !language.Same(o.workingLocale, locale) {
		if translated, err := o.language.Translate(ctx, reply, o.workingLocale, locale); err == nil {
			reply = translated
		}
	}

	o.appendTurns(sessionID, locale, text, reply, turnFlags{crisis: true})

	res := Result{
		RequestID: requestID,
		SessionID: sessionID,
		Reply:     reply,
		Locale:    locale,
		IsCrisis:  true,
		Crisis: &CrisisInfo{
			Severity:        det.Severity,
			EscalationLevel: det.EscalationLevel,
			Resources:       det.Resources,
			Workflow:        det.Workflow,
		},
		PIIFound: red.Found,
		Source:   source,
	}
	o.finish(res, start)
	return res, nil
}

// crisisReply tries the provider's crisis mode with retry, then the
// template responder. It never fails.
func (o *Orchestrator) crisisReply(ctx context.Context, text string, severity crisis.Severity) (string, ReplySource) {
	reply, err := o.callProvider(ctx, func(ctx context.Context) (string, error) {
		return o.provider.GenerateCrisisReply(ctx, text, string(severity))
	})
	if err == nil && validateReply(reply) {
		return reply, SourceCrisis
	}
	if err != nil && o.log != nil {
		o.log.Warnf("crisis_reply", "provider crisis mode failed, using template: %v", err)
	}
	if o.metrics != nil {
		o.metrics.FallbackReplies.Add(1)
	}
	return o.fallback.CrisisReply(severity), SourceFallback
}

// generateValidated runs the provider call and the validation chain. The
// chain is an ordered list of attempts, tried until one yields a valid
// reply; the final canned attempt always succeeds.
func (o *Orchestrator) generateValidated(ctx context.Context, fp, sessionID, providerText, redactedText string) (reply string, source ReplySource, enhanced bool, err error) {
	history := o.history(sessionID)

	raw, genErr := o.generate(ctx, fp, providerText, history)
	if genErr != nil {
		if errors.Is(genErr, provider.ErrNotConfigured) {
			return "", "", false, fmt.Errorf("pipeline: %w", genErr)
		}
		if cerr := ctx.Err(); cerr != nil {
			return "", "", false, cerr
		}
		if o.log != nil {
			o.log.Warnf("generate", "provider failed after retries, using template: %v", genErr)
		}
		if o.metrics != nil {
			o.metrics.FallbackReplies.Add(1)
		}
		return o.fallback.SupportiveReply(redactedText), SourceFallback, false, nil
	}

	type attempt struct {
		source ReplySource
		run    func() (string, bool)
	}
	attempts := []attempt{
		{SourceProvider, func() (string, bool) {
			return raw, validateReply(raw)
		}},
		{SourceEnhanced, func() (string, bool) {
			if o.metrics != nil {
				o.metrics.ValidationFailures.Add(1)
				o.metrics.EnhancementPasses.Add(1)
			}
			e := enhanceReply(raw)
			return e, validateReply(e)
		}},
		{SourceFallback, func() (string, bool) {
			if o.metrics != nil {
				o.metrics.FallbackReplies.Add(1)
			}
			return o.fallback.SupportiveReply(redactedText), true
		}},
	}
	for _, a := range attempts {
		if text, ok := a.run(); ok {
			return text, a.source, a.source == SourceEnhanced, nil
		}
	}
	// Unreachable: the canned attempt always reports valid.
	return o.fallback.SupportiveReply(redactedText), SourceFallback, false, nil
}

// generate performs the retried, deadline-bounded provider call, deduped by
// fingerprint so concurrent identical requests share one call.
func (o *Orchestrator) generate(ctx context.Context, fp, message string, history []provider.Message) (string, error) {
	v, err, _ := o.flight.Do(fp, func() (any, error) {
		return o.callProvider(ctx, func(ctx context.Context) (string, error) {
			return o.provider.Generate(ctx, message, history)
		})
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// callProvider applies the per-attempt timeout, the retry policy, and the
// provider metrics around one logical provider call.
func (o *Orchestrator) callProvider(ctx context.Context, fn func(ctx context.Context) (string, error)) (string, error) {
	if o.metrics != nil {
		o.metrics.ProviderCalls.Add(1)
	}
	start := time.Now()
	reply, err := provider.CallWithRetry(ctx, o.maxRetries, func(attempt int, rerr error) {
		if o.metrics != nil {
			o.metrics.ProviderRetries.Add(1)
		}
		if o.log != nil {
			o.log.Debugf("provider", "retry %d after transient error: %v", attempt, rerr)
		}
	}, func(ctx context.Context) (string, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()
		return fn(attemptCtx)
	})
	if o.metrics != nil {
		o.metrics.RecordProviderLatency(time.Since(start))
		if err != nil {
			o.metrics.ProviderFailures.Add(1)
		}
	}
	return reply, err
}

// history returns the session's most recent turns as provider messages,
// oldest first, bounded by the history window.
func (o *Orchestrator) history(sessionID string) []provider.Message {
	snap, ok := o.store.Get(sessionID)
	if !ok {
		return nil
	}
	turns := snap.Turns
	if len(turns) > o.historyWindow {
		turns = turns[len(turns)-o.historyWindow:]
	}
	msgs := make([]provider.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, provider.Message{Role: string(t.Role), Content: t.Content})
	}
	return msgs
}

// resolveLocale detects the message locale, falling back to the caller's
// hint and then the configured default. The result is always canonical.
func (o *Orchestrator) resolveLocale(ctx context.Context, req Request) string {
	if detected, err := o.language.Detect(ctx, req.Message); err == nil {
		if canonical, ok := language.Canonical(detected); ok {
			return canonical
		}
	}
	if canonical, ok := language.Canonical(req.Locale); ok {
		return canonical
	}
	return o.defaultLocale
}

type turnFlags struct {
	crisis bool
	cached bool
}

// appendTurns records the finalized exchange. The user turn content is the
// redacted text; raw message text is never stored.
func (o *Orchestrator) appendTurns(sessionID, locale, userText, reply string, flags turnFlags) {
	now := time.Now()
	o.store.UpdateContext(sessionID,
		session.Turn{
			Role:      session.RoleUser,
			Content:   userText,
			Locale:    locale,
			Timestamp: now,
			Crisis:    flags.crisis,
			Cached:    flags.cached,
		},
		session.Turn{
			Role:      session.RoleAssistant,
			Content:   reply,
			Locale:    locale,
			Timestamp: now,
			Crisis:    flags.crisis,
			Cached:    flags.cached,
		},
	)
}

// finish records latency and emits the analytics event.
func (o *Orchestrator) finish(res Result, start time.Time) {
	elapsed := time.Since(start)
	if o.metrics != nil {
		o.metrics.RecordPipelineLatency(elapsed)
	}
	ev := Event{
		RequestID: res.RequestID,
		SessionID: shortID(res.SessionID),
		Source:    res.Source,
		Crisis:    res.IsCrisis,
		Cached:    res.Cached,
		PIITypes:  len(res.PIIFound),
		Latency:   elapsed,
	}
	if res.Crisis != nil {
		ev.Severity = string(res.Crisis.Severity)
	}
	o.emit(ev)
}

// ClearSession empties a session's conversation context, keeping the
// session alive. Reports whether the session existed.
func (o *Orchestrator) ClearSession(sessionID string) bool {
	return o.store.ClearContext(sessionID)
}

// DestroySession wipes and removes a session. The store's destroy hooks
// also drop the session's escalation state.
func (o *Orchestrator) DestroySession(sessionID string) bool {
	return o.store.Destroy(sessionID)
}

// GetCrisisResources returns the static resource catalog filtered by
// minimum severity and type.
func (o *Orchestrator) GetCrisisResources(severity crisis.Severity, typeFilter crisis.ResourceType) []crisis.Resource {
	return crisis.Resources(severity, typeFilter)
}

// GetSessionReport returns the privacy/security summary for a live session.
func (o *Orchestrator) GetSessionReport(sessionID string) (session.Report, bool) {
	return o.store.Report(sessionID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
