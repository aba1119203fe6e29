package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xaenox/liveagent/internal/adapter"
	"github.com/xaenox/liveagent/internal/classifier"
	"github.com/xaenox/liveagent/internal/models"
	"github.com/xaenox/liveagent/internal/ratelimit"
	"github.com/xaenox/liveagent/internal/storage"
	"go.uber.org/zap"
)

type fakeAdapter struct {
	platform    models.Platform
	cost        adapter.Cost
	listenErr   error
	sendErr     error
	terminalErr error

	in chan models.ChatMessage

	mu      sync.Mutex
	sent    []string
	stopped bool
}

func newFakeAdapter(platform models.Platform, cost int) *fakeAdapter {
	return &fakeAdapter{
		platform: platform,
		cost:     adapter.Cost{Units: cost},
		in:       make(chan models.ChatMessage, 16),
	}
}

func (f *fakeAdapter) Platform() models.Platform { return f.platform }

func (f *fakeAdapter) Listen(ctx context.Context, _ models.SessionConfig) (*adapter.Stream, error) {
	if f.listenErr != nil {
		return nil, f.listenErr
	}
	out := make(chan models.ChatMessage)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-f.in:
				if !ok {
					if f.terminalErr != nil {
						errs <- f.terminalErr
					}
					return
				}
				select {
				case <-ctx.Done():
					return
				case out <- m:
				}
			}
		}
	}()
	return &adapter.Stream{Messages: out, Errs: errs}, nil
}

func (f *fakeAdapter) Send(_ context.Context, _ models.SessionConfig, _, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) SendCost() adapter.Cost { return f.cost }

func (f *fakeAdapter) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeAdapter) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeClassifier struct {
	result    models.IntentResult
	reply     string
	product   *models.Product
	leadScore int

	mu            sync.Mutex
	classifyCalls int
	scoreCalls    int
	scoredWith    []classifier.LeadSignal
}

func (f *fakeClassifier) Classify(_ context.Context, _ string, _ []models.Product) models.IntentResult {
	f.mu.Lock()
	f.classifyCalls++
	f.mu.Unlock()
	return f.result
}

func (f *fakeClassifier) GenerateResponse(_ context.Context, _ string, _ models.IntentType, _ *models.Product) string {
	return f.reply
}

func (f *fakeClassifier) MatchProduct(_ context.Context, _ string, _ []models.Product) *models.Product {
	return f.product
}

func (f *fakeClassifier) ScoreLead(_ context.Context, history []classifier.LeadSignal) int {
	f.mu.Lock()
	f.scoreCalls++
	f.scoredWith = history
	f.mu.Unlock()
	return f.leadScore
}

func testConfig(platform models.Platform) models.SessionConfig {
	return models.SessionConfig{
		LiveSessionID: "live-1",
		Platform:      platform,
		AgentEnabled:  true,
		Products: []models.Product{
			{ID: "p1", Name: "Wireless Earbuds", Price: models.Price{AmountMicros: 49_990_000, CurrencyCode: "USD"}},
		},
	}
}

func buyer(username string) models.ChatMessage {
	return models.ChatMessage{
		ID:        "msg-" + username,
		Username:  username,
		Text:      "how much are the earbuds?",
		Timestamp: time.Now(),
	}
}

func newTestOrchestrator(clf *fakeClassifier, limitCfg ratelimit.Config) (*Orchestrator, *storage.MemoryStorage, *ratelimit.Limiter) {
	store := storage.NewMemoryStorage()
	limiter := ratelimit.New(limitCfg, zap.NewNop())
	o := New(adapter.NewRegistry(), clf, limiter, store, zap.NewNop())
	return o, store, limiter
}

func productInquiry(confidence float64) models.IntentResult {
	return models.IntentResult{
		Intent:               models.IntentProductInquiry,
		Confidence:           confidence,
		ExtractedProductName: "Wireless Earbuds",
		LeadScore:            70,
	}
}

func TestProcessMessageRespondsWhenAllGatesOpen(t *testing.T) {
	clf := &fakeClassifier{
		result:  productInquiry(0.9),
		reply:   "The Wireless Earbuds are $49.99!",
		product: &models.Product{ID: "p1", Name: "Wireless Earbuds"},
	}
	o, store, limiter := newTestOrchestrator(clf, ratelimit.Config{})
	fa := newFakeAdapter(models.PlatformTwitch, 1)
	s := &session{cfg: testConfig(models.PlatformTwitch), adapter: fa}

	result := o.processMessage(context.Background(), s, buyer("alice"))

	if !result.WasAutoResponded {
		t.Fatal("expected auto-response")
	}
	if result.AgentResponse != clf.reply {
		t.Errorf("response = %q, want %q", result.AgentResponse, clf.reply)
	}
	if result.MatchedProduct == nil || result.MatchedProduct.ID != "p1" {
		t.Errorf("matched product = %+v, want p1", result.MatchedProduct)
	}
	if got := fa.sentCount(); got != 1 {
		t.Errorf("sent %d messages, want 1", got)
	}
	if got := limiter.UserRemainingResponses("live-1", "alice"); got != 2 {
		t.Errorf("remaining user responses = %d, want 2", got)
	}

	saved, err := store.RecentInteractions(context.Background(), "live-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 || !saved[0].WasAutoResponded {
		t.Errorf("saved interactions = %+v, want one auto-responded record", saved)
	}
	if got := store.LeadScore("live-1", "alice"); got != 70 {
		t.Errorf("lead score = %d, want 70", got)
	}
}

func TestProcessMessageEnforcesMinDelay(t *testing.T) {
	clf := &fakeClassifier{result: productInquiry(0.9), reply: "sure!"}
	o, store, _ := newTestOrchestrator(clf, ratelimit.Config{})
	fa := newFakeAdapter(models.PlatformTwitch, 1)
	s := &session{cfg: testConfig(models.PlatformTwitch), adapter: fa}

	first := o.processMessage(context.Background(), s, buyer("alice"))
	if !first.WasAutoResponded {
		t.Fatal("expected first message to be answered")
	}

	second := o.processMessage(context.Background(), s, buyer("alice"))
	if second.WasAutoResponded {
		t.Error("expected second message within min delay to be skipped")
	}
	if got := fa.sentCount(); got != 1 {
		t.Errorf("sent %d messages, want 1", got)
	}

	saved, err := store.RecentInteractions(context.Background(), "live-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 2 {
		t.Errorf("saved %d interactions, want 2 (skipped messages are still recorded)", len(saved))
	}
}

func TestProcessMessageRejectsWhenQuotaShort(t *testing.T) {
	clf := &fakeClassifier{result: productInquiry(0.9), reply: "sure!"}
	// 40 units left in the daily pool, one chat insert costs 50.
	o, _, limiter := newTestOrchestrator(clf, ratelimit.Config{YouTubeQuotaPerDay: 40})
	fa := newFakeAdapter(models.PlatformYouTube, 50)
	s := &session{cfg: testConfig(models.PlatformYouTube), adapter: fa}

	result := o.processMessage(context.Background(), s, buyer("alice"))

	if result.WasAutoResponded {
		t.Error("expected response to be rejected on quota")
	}
	if got := fa.sentCount(); got != 0 {
		t.Errorf("sent %d messages, want 0", got)
	}
	if got := limiter.YouTubeRemainingQuota(); got != 40 {
		t.Errorf("remaining quota = %d, want untouched 40", got)
	}
}

func TestProcessMessageSafeDefaultOnClassifierFailure(t *testing.T) {
	clf := &fakeClassifier{
		result: models.IntentResult{Intent: models.IntentOther, RequiresHumanReview: true},
	}
	o, store, _ := newTestOrchestrator(clf, ratelimit.Config{})
	fa := newFakeAdapter(models.PlatformTwitch, 1)
	s := &session{cfg: testConfig(models.PlatformTwitch), adapter: fa}

	result := o.processMessage(context.Background(), s, buyer("alice"))

	if result.WasAutoResponded {
		t.Error("safe default must not trigger a response")
	}
	if !result.RequiresHumanReview {
		t.Error("expected interaction flagged for human review")
	}
	saved, err := store.RecentInteractions(context.Background(), "live-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 {
		t.Errorf("saved %d interactions, want 1", len(saved))
	}
}

func TestProcessMessageSkipsWhenAgentDisabled(t *testing.T) {
	clf := &fakeClassifier{result: productInquiry(0.9), reply: "sure!"}
	o, store, _ := newTestOrchestrator(clf, ratelimit.Config{})
	fa := newFakeAdapter(models.PlatformTwitch, 1)
	cfg := testConfig(models.PlatformTwitch)
	cfg.AgentEnabled = false
	s := &session{cfg: cfg, adapter: fa}

	result := o.processMessage(context.Background(), s, buyer("alice"))

	if result.WasAutoResponded {
		t.Error("disabled agent must not respond")
	}
	clf.mu.Lock()
	calls := clf.classifyCalls
	clf.mu.Unlock()
	if calls != 0 {
		t.Errorf("classifier called %d times, want 0", calls)
	}
	saved, err := store.RecentInteractions(context.Background(), "live-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 {
		t.Errorf("saved %d interactions, want 1", len(saved))
	}
}

func TestProcessMessageRefundsQuotaOnSendFailure(t *testing.T) {
	clf := &fakeClassifier{result: productInquiry(0.9), reply: "sure!"}
	o, _, limiter := newTestOrchestrator(clf, ratelimit.Config{})
	fa := newFakeAdapter(models.PlatformYouTube, 50)
	fa.sendErr = errors.New("api: 500")
	s := &session{cfg: testConfig(models.PlatformYouTube), adapter: fa}

	before := limiter.YouTubeRemainingQuota()
	result := o.processMessage(context.Background(), s, buyer("alice"))

	if result.WasAutoResponded {
		t.Error("failed send must not count as a response")
	}
	if got := limiter.YouTubeRemainingQuota(); got != before {
		t.Errorf("remaining quota = %d, want refunded %d", got, before)
	}
	if got := limiter.UserRemainingResponses("live-1", "alice"); got != 3 {
		t.Errorf("remaining user responses = %d, want 3 (no response recorded)", got)
	}
}

func TestStartAndStopSession(t *testing.T) {
	clf := &fakeClassifier{result: productInquiry(0.9), reply: "sure!"}
	o, store, _ := newTestOrchestrator(clf, ratelimit.Config{})
	fa := newFakeAdapter(models.PlatformTwitch, 1)
	o.registry.Register(models.PlatformTwitch, func() adapter.Adapter { return fa })

	cfg := testConfig(models.PlatformTwitch)
	if err := o.StartSession(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if stats := o.SessionStats("live-1"); !stats.Active {
		t.Errorf("session state = %s, want active", stats.State)
	}

	// Starting the same id again is a no-op.
	if err := o.StartSession(context.Background(), cfg); err != nil {
		t.Fatalf("second start: %v", err)
	}

	fa.in <- buyer("alice")
	waitForInteractions(t, store, "live-1", 1)

	o.StopSession("live-1")
	if stats := o.SessionStats("live-1"); stats.Active {
		t.Error("session still active after stop")
	}
	fa.mu.Lock()
	stopped := fa.stopped
	fa.mu.Unlock()
	if !stopped {
		t.Error("adapter not stopped")
	}

	// Stopping again is a no-op.
	o.StopSession("live-1")
}

func TestStartSessionListenFailure(t *testing.T) {
	clf := &fakeClassifier{}
	o, _, _ := newTestOrchestrator(clf, ratelimit.Config{})
	fa := newFakeAdapter(models.PlatformTwitch, 1)
	fa.listenErr = errors.New("irc: connection refused")
	o.registry.Register(models.PlatformTwitch, func() adapter.Adapter { return fa })

	if err := o.StartSession(context.Background(), testConfig(models.PlatformTwitch)); err == nil {
		t.Fatal("expected start to fail")
	}
	if ids := o.ActiveSessionIDs(); len(ids) != 0 {
		t.Errorf("sessions retained after failed start: %v", ids)
	}
}

func TestStartSessionUnknownPlatform(t *testing.T) {
	clf := &fakeClassifier{}
	o, _, _ := newTestOrchestrator(clf, ratelimit.Config{})

	if err := o.StartSession(context.Background(), testConfig(models.PlatformTikTok)); err == nil {
		t.Fatal("expected error for unregistered platform")
	}
}

func TestTerminalAdapterFailureTearsSessionDown(t *testing.T) {
	clf := &fakeClassifier{}
	o, _, _ := newTestOrchestrator(clf, ratelimit.Config{})
	fa := newFakeAdapter(models.PlatformTwitch, 1)
	fa.terminalErr = errors.New("irc: gave up after 5 attempts")
	o.registry.Register(models.PlatformTwitch, func() adapter.Adapter { return fa })

	if err := o.StartSession(context.Background(), testConfig(models.PlatformTwitch)); err != nil {
		t.Fatal(err)
	}

	close(fa.in)

	deadline := time.After(2 * time.Second)
	for {
		if len(o.ActiveSessionIDs()) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("session not torn down after terminal adapter failure")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSendManualResponse(t *testing.T) {
	clf := &fakeClassifier{}
	o, _, limiter := newTestOrchestrator(clf, ratelimit.Config{})
	fa := newFakeAdapter(models.PlatformTwitch, 1)
	o.registry.Register(models.PlatformTwitch, func() adapter.Adapter { return fa })

	if err := o.SendManualResponse(context.Background(), "live-1", "alice", "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}

	if err := o.StartSession(context.Background(), testConfig(models.PlatformTwitch)); err != nil {
		t.Fatal(err)
	}
	defer o.StopSession("live-1")

	if err := o.SendManualResponse(context.Background(), "live-1", "alice", "hi"); err != nil {
		t.Fatal(err)
	}
	if got := fa.sentCount(); got != 1 {
		t.Errorf("sent %d messages, want 1", got)
	}
	if got := limiter.TwitchRemainingWhispers(); got != 39 {
		t.Errorf("remaining whispers = %d, want 39", got)
	}
}

type fakeChannelAdapter struct {
	*fakeAdapter

	chanMu      sync.Mutex
	channelSent []string
}

func (f *fakeChannelAdapter) SendChannelMessage(_ context.Context, _ models.SessionConfig, target, text string) error {
	f.chanMu.Lock()
	f.channelSent = append(f.channelSent, "@"+target+" "+text)
	f.chanMu.Unlock()
	return nil
}

func TestSendManualResponsePrefersChannelChat(t *testing.T) {
	clf := &fakeClassifier{}
	o, _, limiter := newTestOrchestrator(clf, ratelimit.Config{})
	fa := &fakeChannelAdapter{fakeAdapter: newFakeAdapter(models.PlatformTwitch, 1)}
	o.registry.Register(models.PlatformTwitch, func() adapter.Adapter { return fa })

	if err := o.StartSession(context.Background(), testConfig(models.PlatformTwitch)); err != nil {
		t.Fatal(err)
	}
	defer o.StopSession("live-1")

	if err := o.SendManualResponse(context.Background(), "live-1", "alice", "restocking tomorrow!"); err != nil {
		t.Fatal(err)
	}

	fa.chanMu.Lock()
	sent := append([]string(nil), fa.channelSent...)
	fa.chanMu.Unlock()
	if len(sent) != 1 || sent[0] != "@alice restocking tomorrow!" {
		t.Errorf("channel messages = %v, want one reply to alice", sent)
	}
	if got := fa.sentCount(); got != 0 {
		t.Errorf("gated sends = %d, want 0 (channel chat bypasses the whisper path)", got)
	}
	if got := limiter.TwitchRemainingWhispers(); got != 40 {
		t.Errorf("remaining whispers = %d, want untouched 40", got)
	}
}

func TestLeadRescoredAgainstHistory(t *testing.T) {
	clf := &fakeClassifier{result: productInquiry(0.9), reply: "sure!", leadScore: 85}
	o, store, _ := newTestOrchestrator(clf, ratelimit.Config{})
	fa := newFakeAdapter(models.PlatformTwitch, 1)
	s := &session{cfg: testConfig(models.PlatformTwitch), adapter: fa}

	// First interaction: no prior history, the per-message score stands.
	o.processMessage(context.Background(), s, buyer("alice"))
	if got := store.LeadScore("live-1", "alice"); got != 70 {
		t.Errorf("lead score after first message = %d, want 70", got)
	}

	o.processMessage(context.Background(), s, buyer("alice"))
	if got := store.LeadScore("live-1", "alice"); got != 85 {
		t.Errorf("lead score after second message = %d, want rescored 85", got)
	}

	clf.mu.Lock()
	calls, signals := clf.scoreCalls, len(clf.scoredWith)
	clf.mu.Unlock()
	if calls != 1 {
		t.Errorf("ScoreLead called %d times, want 1", calls)
	}
	if signals != 2 {
		t.Errorf("ScoreLead saw %d signals, want the user's 2 interactions", signals)
	}
}

func TestSessionStatsDuringTeardown(t *testing.T) {
	clf := &fakeClassifier{}
	o, _, _ := newTestOrchestrator(clf, ratelimit.Config{})
	fa := newFakeAdapter(models.PlatformTwitch, 1)
	fa.terminalErr = errors.New("irc: gave up after 5 attempts")
	o.registry.Register(models.PlatformTwitch, func() adapter.Adapter { return fa })

	if err := o.StartSession(context.Background(), testConfig(models.PlatformTwitch)); err != nil {
		t.Fatal(err)
	}

	// Query stats continuously while a terminal failure drives teardown on
	// another goroutine; state reads must stay consistent with the lock.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			o.SessionStats("live-1")
		}
	}()

	close(fa.in)
	<-done

	deadline := time.After(2 * time.Second)
	for o.SessionStats("live-1").Active {
		select {
		case <-deadline:
			t.Fatal("session still active after terminal failure")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func waitForInteractions(t *testing.T, store *storage.MemoryStorage, sessionID string, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		saved, err := store.RecentInteractions(context.Background(), sessionID, n+1)
		if err != nil {
			t.Fatal(err)
		}
		if len(saved) >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d interactions, have %d", n, len(saved))
		case <-time.After(10 * time.Millisecond):
		}
	}
}
