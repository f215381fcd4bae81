package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"companion-core/internal/crisis"
	"companion-core/internal/fallback"
	"companion-core/internal/language"
	"companion-core/internal/metrics"
	"companion-core/internal/provider"
	"companion-core/internal/redact"
	"companion-core/internal/respcache"
	"companion-core/internal/session"
)

// fakeProvider scripts both provider modes and counts calls.
type fakeProvider struct {
	mu          sync.Mutex
	genFn       func(call int, message string) (string, error)
	crisisFn    func(call int, message, severity string) (string, error)
	genCalls    int
	crisisCalls int
	lastMessage string
}

func (f *fakeProvider) Generate(_ context.Context, message string, _ []provider.Message) (string, error) {
	f.mu.Lock()
	f.genCalls++
	call := f.genCalls
	f.lastMessage = message
	fn := f.genFn
	f.mu.Unlock()
	if fn == nil {
		return "I hear you, and I'm here to support you. Thank you for sharing.", nil
	}
	return fn(call, message)
}

func (f *fakeProvider) GenerateCrisisReply(_ context.Context, message, severity string) (string, error) {
	f.mu.Lock()
	f.crisisCalls++
	call := f.crisisCalls
	fn := f.crisisFn
	f.mu.Unlock()
	if fn == nil {
		return "", provider.ErrUnavailable
	}
	return fn(call, message, severity)
}

func (f *fakeProvider) generateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.genCalls
}

func (f *fakeProvider) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMessage
}

type testEnv struct {
	orch     *Orchestrator
	provider *fakeProvider
	cache    *respcache.Cache
	store    *session.Store
	metrics  *metrics.Metrics
}

func newTestEnv(p *fakeProvider, cfg Config) *testEnv {
	m := metrics.New()
	store := session.NewStore(session.Config{
		Timeout:     30 * time.Minute,
		MaxSessions: 100,
		MaxTurns:    20,
		RatePerMin:  6000,
		RateBurst:   100,
	}, nil, m)
	detector := crisis.NewDetector(30*time.Minute, nil, m)
	store.OnDestroy(detector.RemoveSession)
	cache := respcache.New(50, m)

	orch := New(cfg, Deps{
		Store:    store,
		Detector: detector,
		Cache:    cache,
		Redactor: redact.New(nil, m),
		Provider: p,
		Language: language.NewStatic(),
		Fallback: fallback.New(),
		Metrics:  m,
	})
	return &testEnv{orch: orch, provider: p, cache: cache, store: store, metrics: m}
}

func TestProcess_ImmediateCrisisShortCircuits(t *testing.T) {
	p := &fakeProvider{
		genFn: func(int, string) (string, error) {
			return "", errors.New("completion path must not run for crisis messages")
		},
	}
	env := newTestEnv(p, Config{})

	res, err := env.orch.Process(context.Background(), Request{
		Message: "I want to kill myself",
		Locale:  "en",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.IsCrisis || res.Crisis == nil {
		t.Fatal("expected a crisis result")
	}
	if res.Crisis.Severity != crisis.SeverityImmediate {
		t.Errorf("severity = %s, want immediate", res.Crisis.Severity)
	}
	if res.Crisis.EscalationLevel != crisis.LevelImmediate {
		t.Errorf("escalation level = %d, want %d", res.Crisis.EscalationLevel, crisis.LevelImmediate)
	}
	if !strings.Contains(res.Reply, "988") {
		t.Error("crisis reply does not reference the hotline")
	}
	if len(res.Crisis.Resources) == 0 || len(res.Crisis.Workflow) == 0 {
		t.Error("crisis result missing resources or workflow")
	}
	if res.Crisis.Workflow[0] != crisis.StepShowEmergencyResources {
		t.Errorf("first workflow step = %s", res.Crisis.Workflow[0])
	}
	if env.provider.generateCalls() != 0 {
		t.Error("completion provider was called on the crisis path")
	}
	if env.cache.Len() != 0 {
		t.Error("crisis reply was written to the cache")
	}
}

func TestProcess_WhitespaceVariantCannotSeedCacheForCrisisMessage(t *testing.T) {
	p := &fakeProvider{}
	env := newTestEnv(p, Config{})

	// The cache fingerprint collapses whitespace, so both spellings share a
	// key. Classification must agree, or the padded variant would write a
	// cache entry the canonical crisis message then hits.
	padded, err := env.orch.Process(context.Background(), Request{
		Message: "I want to kill  myself",
		Locale:  "en",
	})
	if err != nil {
		t.Fatalf("padded Process: %v", err)
	}
	if !padded.IsCrisis {
		t.Fatal("whitespace-padded immediate message not classified as crisis")
	}
	if env.cache.Len() != 0 {
		t.Fatal("crisis reply written to the cache")
	}

	canonical, err := env.orch.Process(context.Background(), Request{
		Message: "I want to kill myself",
		Locale:  "en",
	})
	if err != nil {
		t.Fatalf("canonical Process: %v", err)
	}
	if !canonical.IsCrisis || canonical.Cached {
		t.Errorf("canonical message: crisis=%v cached=%v, want crisis and uncached",
			canonical.IsCrisis, canonical.Cached)
	}
	if env.provider.generateCalls() != 0 {
		t.Error("completion provider reached on the crisis path")
	}
}

func TestProcess_RedactsBeforeProvider(t *testing.T) {
	p := &fakeProvider{}
	env := newTestEnv(p, Config{})

	res, err := env.orch.Process(context.Background(), Request{
		Message: "My email is john@example.com, I'm stressed about exams",
		Locale:  "en",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.IsCrisis {
		t.Error("stress message misclassified as crisis")
	}
	sent := env.provider.last()
	if strings.Contains(sent, "john@example.com") {
		t.Error("raw email address reached the provider")
	}
	if !strings.Contains(sent, "[EMAIL_REDACTED]") {
		t.Errorf("provider input not redacted: %q", sent)
	}
	if len(res.PIIFound) == 0 {
		t.Error("PII metadata missing from result")
	}

	// Stored turn content is the redacted text, never the original.
	snap, ok := env.store.Get(res.SessionID)
	if !ok {
		t.Fatal("session gone after processing")
	}
	for _, turn := range snap.Turns {
		if strings.Contains(turn.Content, "john@example.com") {
			t.Error("raw email address stored in session turn")
		}
	}
}

func TestProcess_EscalationAcrossMessages(t *testing.T) {
	p := &fakeProvider{
		crisisFn: func(_ int, _, _ string) (string, error) {
			return "I'm so sorry you're feeling this. You are not alone and I'm here with you.", nil
		},
	}
	env := newTestEnv(p, Config{})

	first, err := env.orch.Process(context.Background(), Request{Message: "I feel hopeless", Locale: "en"})
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	second, err := env.orch.Process(context.Background(), Request{
		SessionID: first.SessionID,
		Message:   "I am worthless",
		Locale:    "en",
	})
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatal("session not carried across calls")
	}
	if second.Crisis == nil || second.Crisis.EscalationLevel < crisis.LevelHighRisk {
		t.Errorf("second detection escalation = %+v, want level >= %d", second.Crisis, crisis.LevelHighRisk)
	}
}

func TestProcess_ProviderTimeoutsFallBack(t *testing.T) {
	p := &fakeProvider{
		genFn: func(int, string) (string, error) {
			return "", context.DeadlineExceeded
		},
	}
	env := newTestEnv(p, Config{MaxRetries: 2})

	res, err := env.orch.Process(context.Background(), Request{
		Message: "hello there, rough day at work",
		Locale:  "en",
	})
	if err != nil {
		t.Fatalf("timeouts must not surface to the caller, got %v", err)
	}
	if res.Reply == "" {
		t.Fatal("empty reply after provider timeouts")
	}
	if !validateReply(res.Reply) {
		t.Errorf("fallback reply fails validation: %q", res.Reply)
	}
	if res.Source != SourceFallback {
		t.Errorf("source = %s, want %s", res.Source, SourceFallback)
	}
	if got := env.provider.generateCalls(); got != 3 {
		t.Errorf("provider attempts = %d, want 3 (initial + 2 retries)", got)
	}
	if env.metrics.FallbackReplies.Load() == 0 {
		t.Error("fallback counter not incremented")
	}
}

func TestProcess_CacheRoundTrip(t *testing.T) {
	p := &fakeProvider{}
	env := newTestEnv(p, Config{})
	req := Request{Message: "I had a quiet ordinary day today", Locale: "en"}

	first, err := env.orch.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if first.Cached {
		t.Fatal("first request reported cached")
	}

	second, err := env.orch.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !second.Cached || second.Source != SourceCache {
		t.Errorf("second request not served from cache: cached=%v source=%s", second.Cached, second.Source)
	}
	if second.Reply != first.Reply {
		t.Error("cached reply differs from original")
	}
	if got := env.provider.generateCalls(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}
}

func TestProcess_EnhancementRescuesInvalidReply(t *testing.T) {
	p := &fakeProvider{
		genFn: func(int, string) (string, error) {
			return "You should just get over it. I understand this feels hard and I'm here for you.", nil
		},
	}
	env := newTestEnv(p, Config{})

	res, err := env.orch.Process(context.Background(), Request{
		Message: "work has been difficult lately",
		Locale:  "en",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Source != SourceEnhanced || !res.Enhanced {
		t.Errorf("source = %s enhanced = %v, want enhanced reply", res.Source, res.Enhanced)
	}
	if strings.Contains(res.Reply, "get over it") {
		t.Errorf("banned phrase survived enhancement: %q", res.Reply)
	}
	if !validateReply(res.Reply) {
		t.Errorf("enhanced reply fails validation: %q", res.Reply)
	}
	if env.metrics.EnhancementPasses.Load() != 1 {
		t.Errorf("enhancement passes = %d, want 1", env.metrics.EnhancementPasses.Load())
	}
}

func TestProcess_NotConfiguredSurfaces(t *testing.T) {
	p := &fakeProvider{
		genFn: func(int, string) (string, error) {
			return "", provider.ErrNotConfigured
		},
	}
	env := newTestEnv(p, Config{})

	_, err := env.orch.Process(context.Background(), Request{Message: "hello", Locale: "en"})
	if !errors.Is(err, provider.ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestProcess_RateLimitRejects(t *testing.T) {
	p := &fakeProvider{}
	m := metrics.New()
	store := session.NewStore(session.Config{
		Timeout:     30 * time.Minute,
		MaxSessions: 10,
		MaxTurns:    20,
		RatePerMin:  1,
		RateBurst:   1,
	}, nil, m)
	detector := crisis.NewDetector(30*time.Minute, nil, m)
	orch := New(Config{}, Deps{
		Store:    store,
		Detector: detector,
		Cache:    respcache.New(10, m),
		Redactor: redact.New(nil, m),
		Provider: p,
		Language: language.NewStatic(),
		Fallback: fallback.New(),
		Metrics:  m,
	})

	first, err := orch.Process(context.Background(), Request{Message: "hello, how does this work", Locale: "en"})
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	_, err = orch.Process(context.Background(), Request{
		SessionID: first.SessionID,
		Message:   "and another message right away",
		Locale:    "en",
	})
	if !errors.Is(err, session.ErrRateLimited) {
		t.Errorf("err = %v, want rate-limit rejection", err)
	}
	var rateErr *session.RateLimitError
	if !errors.As(err, &rateErr) || rateErr.RetryAfter <= 0 {
		t.Error("rate-limit rejection missing retry-after hint")
	}
}

func TestDestroySession_ReportGone(t *testing.T) {
	p := &fakeProvider{}
	env := newTestEnv(p, Config{})

	res, err := env.orch.Process(context.Background(), Request{Message: "just checking in today", Locale: "en"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, ok := env.orch.GetSessionReport(res.SessionID); !ok {
		t.Fatal("report missing for live session")
	}
	if !env.orch.DestroySession(res.SessionID) {
		t.Fatal("DestroySession reported not found")
	}
	if _, ok := env.orch.GetSessionReport(res.SessionID); ok {
		t.Error("report still available after destroy")
	}
}

func TestClearSession_KeepsSessionAlive(t *testing.T) {
	p := &fakeProvider{}
	env := newTestEnv(p, Config{})

	res, err := env.orch.Process(context.Background(), Request{Message: "a small update on my day", Locale: "en"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !env.orch.ClearSession(res.SessionID) {
		t.Fatal("ClearSession reported not found")
	}
	snap, ok := env.store.Get(res.SessionID)
	if !ok {
		t.Fatal("session destroyed by clear")
	}
	if len(snap.Turns) != 0 {
		t.Errorf("turns remain after clear: %d", len(snap.Turns))
	}
}

func TestProcess_ConcurrentIdenticalMessagesShareCalls(t *testing.T) {
	p := &fakeProvider{
		genFn: func(int, string) (string, error) {
			time.Sleep(100 * time.Millisecond)
			return "That sounds like a lot. I'm here and listening to you.", nil
		},
	}
	env := newTestEnv(p, Config{})

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.orch.Process(context.Background(), Request{
				Message: "the same question asked at the same time",
				Locale:  "en",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Process: %v", err)
		}
	}
	if got := env.provider.generateCalls(); got >= workers {
		t.Errorf("provider calls = %d, want deduplication below %d", got, workers)
	}
}

// markingAdapter translates by tagging the text with the target locale, so
// tests can observe which direction each translation ran.
type markingAdapter struct{}

func (markingAdapter) Detect(context.Context, string) (string, error) { return "es", nil }

func (markingAdapter) Translate(_ context.Context, text, _, to string) (string, error) {
	return "(" + to + ") " + text, nil
}

func TestProcessCrisis_TranslatesBothDirections(t *testing.T) {
	var crisisInput string
	p := &fakeProvider{
		crisisFn: func(_ int, message, _ string) (string, error) {
			crisisInput = message
			return "You are not alone, and I'm here with you right now.", nil
		},
	}
	m := metrics.New()
	store := session.NewStore(session.Config{
		Timeout:     30 * time.Minute,
		MaxSessions: 10,
		MaxTurns:    20,
		RatePerMin:  6000,
		RateBurst:   100,
	}, nil, m)
	orch := New(Config{}, Deps{
		Store:    store,
		Detector: crisis.NewDetector(30*time.Minute, nil, m),
		Cache:    respcache.New(10, m),
		Redactor: redact.New(nil, m),
		Provider: p,
		Language: markingAdapter{},
		Fallback: fallback.New(),
		Metrics:  m,
	})

	res, err := orch.Process(context.Background(), Request{Message: "I want to die", Locale: "es"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.IsCrisis {
		t.Fatal("expected a crisis result")
	}
	if !strings.HasPrefix(crisisInput, "(en) ") {
		t.Errorf("crisis prompt input not in working locale: %q", crisisInput)
	}
	if !strings.HasPrefix(res.Reply, "(es) ") {
		t.Errorf("crisis reply not translated to caller locale: %q", res.Reply)
	}
}

func TestProcess_TemplateRepliesNotCached(t *testing.T) {
	p := &fakeProvider{
		genFn: func(int, string) (string, error) {
			return "", provider.ErrUnavailable
		},
	}
	env := newTestEnv(p, Config{})
	req := Request{Message: "a perfectly ordinary check-in", Locale: "en"}

	first, err := env.orch.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if first.Source != SourceFallback {
		t.Fatalf("source = %s, want %s", first.Source, SourceFallback)
	}
	if env.cache.Len() != 0 {
		t.Fatal("template reply written to the cache")
	}

	// The provider must be retried on the next identical request, not
	// shadowed by a cached degraded reply.
	second, err := env.orch.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if second.Cached {
		t.Error("second request served from cache")
	}
	if got := env.provider.generateCalls(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}
}

func TestProcess_UnsupportedTranslationUsesOriginal(t *testing.T) {
	p := &fakeProvider{}
	env := newTestEnv(p, Config{})

	res, err := env.orch.Process(context.Background(), Request{
		Message: "estoy muy triste pero no quiero hablar con nadie",
		Locale:  "es",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Locale != "es" {
		t.Errorf("locale = %s, want es", res.Locale)
	}
	if res.Reply == "" {
		t.Error("empty reply for unsupported translation pair")
	}
}

func TestGetCrisisResources_Filters(t *testing.T) {
	p := &fakeProvider{}
	env := newTestEnv(p, Config{})

	all := env.orch.GetCrisisResources(crisis.SeverityImmediate, "")
	hotlines := env.orch.GetCrisisResources(crisis.SeverityImmediate, crisis.ResourceHotline)
	if len(all) == 0 || len(hotlines) == 0 {
		t.Fatal("empty resource lists")
	}
	if len(hotlines) >= len(all) {
		t.Error("type filter did not narrow the list")
	}
	for _, r := range hotlines {
		if r.Type != crisis.ResourceHotline {
			t.Errorf("filtered list contains type %s", r.Type)
		}
	}
}

func TestValidateReply(t *testing.T) {
	cases := []struct {
		name  string
		reply string
		valid bool
	}{
		{"supportive", "I understand, and I'm here for you.", true},
		{"empty", "   ", false},
		{"dismissive", "You should just get over it.", false},
		{"diagnostic", "Clearly you have depression.", false},
		{"framing break", "As an AI, I cannot feel emotions about your situation.", false},
		{"no marker", "The weather report says rain at noon.", false},
		{"too long", "you " + strings.Repeat("a", maxReplyLen), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := validateReply(tc.reply); got != tc.valid {
				t.Errorf("validateReply(%q) = %v, want %v", tc.reply, got, tc.valid)
			}
		})
	}
}

func TestEnhanceReply_DropsBannedSentences(t *testing.T) {
	raw := "Just get over it. I know this is painful for you. It's all in your head."
	enhanced := enhanceReply(raw)
	if strings.Contains(strings.ToLower(enhanced), "get over it") ||
		strings.Contains(strings.ToLower(enhanced), "in your head") {
		t.Errorf("banned sentences survived: %q", enhanced)
	}
	if !validateReply(enhanced) {
		t.Errorf("enhanced reply invalid: %q", enhanced)
	}
}
