// Package orchestrator owns live session lifecycles and routes every
// inbound chat message through classification, rate limiting, the decision
// policy and delivery.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/liveagent/internal/adapter"
	"github.com/xaenox/liveagent/internal/classifier"
	"github.com/xaenox/liveagent/internal/models"
	"github.com/xaenox/liveagent/internal/policy"
	"github.com/xaenox/liveagent/internal/ratelimit"
	"github.com/xaenox/liveagent/internal/storage"
	"go.uber.org/zap"
)

// ErrSessionNotFound is returned for operations on unknown session ids.
var ErrSessionNotFound = errors.New("orchestrator: session not found")

const (
	defaultStopTimeout = 10 * time.Second

	// leadHistoryLimit bounds how much session history feeds a lead re-score.
	leadHistoryLimit = 20
)

// channelSender is the optional adapter capability of posting into the
// public channel chat, which is free of the per-day whisper pool. Manual
// responses prefer it over the gated Send path.
type channelSender interface {
	SendChannelMessage(ctx context.Context, cfg models.SessionConfig, target, text string) error
}

// State is the lifecycle phase of one session.
type State string

const (
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

type session struct {
	cfg     models.SessionConfig
	adapter adapter.Adapter
	cancel  context.CancelFunc
	done    chan struct{}
	state   State
}

// Stats is a point-in-time view of one session.
type Stats struct {
	Active             bool
	State              State
	RemainingResponses int
	Limits             ratelimit.Stats
}

// Orchestrator coordinates adapters, the classifier, the rate limiter and
// the persistence collaborator. Each active session drains its own message
// stream in a single goroutine, so messages of one session are processed
// strictly in arrival order.
type Orchestrator struct {
	mu       sync.Mutex
	sessions map[string]*session

	registry   *adapter.Registry
	classifier classifier.Classifier
	limiter    *ratelimit.Limiter
	store      storage.Storage
	logger     *zap.Logger

	stopTimeout time.Duration
}

func New(registry *adapter.Registry, clf classifier.Classifier, limiter *ratelimit.Limiter, store storage.Storage, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		sessions:    make(map[string]*session),
		registry:    registry,
		classifier:  clf,
		limiter:     limiter,
		store:       store,
		logger:      logger,
		stopTimeout: defaultStopTimeout,
	}
}

// StartSession begins monitoring one broadcast. Starting an already-active
// session id is a logged no-op. The session keeps running until StopSession
// is called, ctx is canceled, or the adapter exhausts its reconnects.
func (o *Orchestrator) StartSession(ctx context.Context, cfg models.SessionConfig) error {
	o.mu.Lock()
	if _, exists := o.sessions[cfg.LiveSessionID]; exists {
		o.mu.Unlock()
		o.logger.Warn("session already active",
			zap.String("session_id", cfg.LiveSessionID))
		return nil
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateStarting,
	}
	o.sessions[cfg.LiveSessionID] = s
	o.mu.Unlock()

	o.logger.Info("starting live session",
		zap.String("session_id", cfg.LiveSessionID),
		zap.String("platform", string(cfg.Platform)))

	ad, err := o.registry.New(cfg.Platform)
	if err != nil {
		o.abortStart(s)
		return err
	}

	stream, err := ad.Listen(sctx, cfg)
	if err != nil {
		o.abortStart(s)
		return fmt.Errorf("starting %s listener: %w", cfg.Platform, err)
	}

	o.mu.Lock()
	s.adapter = ad
	s.state = StateActive
	o.mu.Unlock()

	go o.drain(sctx, s, stream)
	return nil
}

func (o *Orchestrator) abortStart(s *session) {
	s.cancel()
	close(s.done)
	o.mu.Lock()
	delete(o.sessions, s.cfg.LiveSessionID)
	o.mu.Unlock()
}

// drain consumes the adapter stream until it closes. A close caused by a
// terminal adapter failure (rather than StopSession) tears the session down
// here and surfaces the reason in the log.
func (o *Orchestrator) drain(ctx context.Context, s *session, stream *adapter.Stream) {
	defer close(s.done)

	for msg := range stream.Messages {
		o.processMessage(ctx, s, msg)
	}

	if err, ok := <-stream.Errs; ok && err != nil {
		o.logger.Error("session ended due to repeated connection failure",
			zap.String("session_id", s.cfg.LiveSessionID),
			zap.Error(err))
		go o.teardown(s)
	}
}

// StopSession stops monitoring. At most one in-flight classify/send is
// allowed to finish within the stop timeout before resources are released.
// Stopping an unknown or already-stopped id is a logged no-op.
func (o *Orchestrator) StopSession(id string) {
	o.mu.Lock()
	s, ok := o.sessions[id]
	o.mu.Unlock()
	if !ok {
		o.logger.Info("stop requested for inactive session", zap.String("session_id", id))
		return
	}

	o.logger.Info("stopping live session", zap.String("session_id", id))

	s.cancel()
	select {
	case <-s.done:
	case <-time.After(o.stopTimeout):
		o.logger.Warn("session pipeline did not drain before timeout",
			zap.String("session_id", id))
	}

	o.teardown(s)
}

func (o *Orchestrator) teardown(s *session) {
	o.mu.Lock()
	if s.state == StateStopped {
		o.mu.Unlock()
		return
	}
	s.state = StateStopping
	ad := s.adapter
	o.mu.Unlock()

	s.cancel()
	o.limiter.ResetSession(s.cfg.LiveSessionID)
	if ad != nil {
		ad.Stop()
	}

	o.mu.Lock()
	s.state = StateStopped
	delete(o.sessions, s.cfg.LiveSessionID)
	o.mu.Unlock()

	o.logger.Info("live session stopped", zap.String("session_id", s.cfg.LiveSessionID))
}

// processMessage runs the per-message pipeline. Every path produces an
// interaction record; failures along the way degrade to "no auto-response"
// instead of aborting.
func (o *Orchestrator) processMessage(ctx context.Context, s *session, msg models.ChatMessage) *models.InteractionResult {
	cfg := s.cfg
	result := &models.InteractionResult{
		InteractionID: uuid.New().String(),
		SessionID:     cfg.LiveSessionID,
		Username:      msg.Username,
		UserMessage:   msg.Text,
		Intent:        models.IntentOther,
		CreatedAt:     time.Now(),
	}
	defer o.persist(ctx, result)

	if !cfg.AgentEnabled {
		return result
	}

	intent := o.classifier.Classify(ctx, msg.Text, cfg.Products)
	result.Intent = intent.Intent
	result.LeadScore = intent.LeadScore
	result.RequiresHumanReview = intent.RequiresHumanReview

	o.logger.Debug("intent detected",
		zap.String("session_id", cfg.LiveSessionID),
		zap.String("intent", string(intent.Intent)),
		zap.Float64("confidence", intent.Confidence))

	var matched *models.Product
	if intent.ExtractedProductName != "" {
		matched = o.classifier.MatchProduct(ctx, msg.Text, cfg.Products)
		result.MatchedProduct = matched
	}

	if !policy.ShouldAutoRespond(intent.Intent, intent.Confidence) {
		return result
	}

	if gate := o.limiter.CheckUserLimit(cfg.LiveSessionID, msg.Username); !gate.Allowed {
		o.logger.Info("response skipped",
			zap.String("session_id", cfg.LiveSessionID),
			zap.String("username", msg.Username),
			zap.String("gate", "user"),
			zap.String("reason", gate.Reason),
			zap.Duration("retry_after", gate.RetryAfter))
		return result
	}
	if gate := o.limiter.CheckSessionLimit(cfg.LiveSessionID); !gate.Allowed {
		o.logger.Info("response skipped",
			zap.String("session_id", cfg.LiveSessionID),
			zap.String("gate", "session"),
			zap.String("reason", gate.Reason))
		return result
	}

	reply := o.classifier.GenerateResponse(ctx, msg.Text, intent.Intent, matched)

	// The platform-global pool is shared across sessions, so the check and
	// the reservation are one atomic operation; a failed send refunds it.
	cost := s.adapter.SendCost()
	if gate := o.limiter.ReserveSend(cfg.Platform, cost.Units); !gate.Allowed {
		o.logger.Info("response skipped",
			zap.String("session_id", cfg.LiveSessionID),
			zap.String("gate", "platform"),
			zap.String("reason", gate.Reason),
			zap.Duration("retry_after", gate.RetryAfter))
		return result
	}

	if err := s.adapter.Send(ctx, cfg, msg.Username, reply); err != nil {
		o.limiter.RefundSend(cfg.Platform, cost.Units)
		if errors.Is(err, adapter.ErrSendUnsupported) {
			o.logger.Warn("platform does not support outbound sends, message left for manual delivery",
				zap.String("session_id", cfg.LiveSessionID))
		} else {
			o.logger.Error("failed to send response",
				zap.String("session_id", cfg.LiveSessionID),
				zap.String("username", msg.Username),
				zap.Error(err))
		}
		return result
	}

	o.limiter.RecordUserResponse(cfg.LiveSessionID, msg.Username)
	o.limiter.RecordSessionResponse(cfg.LiveSessionID)
	result.AgentResponse = reply
	result.WasAutoResponded = true

	o.logger.Info("auto-responded",
		zap.String("session_id", cfg.LiveSessionID),
		zap.String("username", msg.Username))
	return result
}

func (o *Orchestrator) persist(ctx context.Context, result *models.InteractionResult) {
	if err := o.store.SaveInteraction(ctx, result); err != nil {
		o.logger.Error("failed to save interaction",
			zap.Error(err),
			zap.String("interaction_id", result.InteractionID))
	}

	if result.Intent == models.IntentPurchaseIntent || result.Intent == models.IntentProductInquiry {
		score := o.scoreLead(ctx, result)
		if err := o.store.UpdateLeadScore(ctx, result.SessionID, result.Username, score); err != nil {
			o.logger.Error("failed to update lead score",
				zap.Error(err),
				zap.String("session_id", result.SessionID),
				zap.String("username", result.Username))
		}
	}
}

// scoreLead re-scores the lead against the user's full session history. A
// user with only the current interaction keeps the per-message score.
func (o *Orchestrator) scoreLead(ctx context.Context, result *models.InteractionResult) int {
	history, err := o.store.RecentInteractions(ctx, result.SessionID, leadHistoryLimit)
	if err != nil {
		o.logger.Warn("failed to load history for lead scoring",
			zap.Error(err),
			zap.String("session_id", result.SessionID))
		return result.LeadScore
	}

	// RecentInteractions is newest-first; the scoring prompt wants the
	// conversation in order. The current interaction is already persisted.
	var signals []classifier.LeadSignal
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Username == result.Username {
			signals = append(signals, classifier.LeadSignal{
				Text:   history[i].UserMessage,
				Intent: history[i].Intent,
			})
		}
	}
	if len(signals) < 2 {
		return result.LeadScore
	}
	return o.classifier.ScoreLead(ctx, signals)
}

// SendManualResponse delivers a creator-initiated reply. It bypasses the
// decision policy and the per-user/per-session gates. Platforms with a
// public channel chat deliver there without touching the gated pool;
// otherwise the send pays the platform quota.
func (o *Orchestrator) SendManualResponse(ctx context.Context, sessionID, username, text string) error {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	var ad adapter.Adapter
	if ok {
		ad = s.adapter
	}
	o.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if ad == nil {
		return fmt.Errorf("session %s is still starting", sessionID)
	}

	if cs, ok := ad.(channelSender); ok {
		if err := cs.SendChannelMessage(ctx, s.cfg, username, text); err != nil {
			return fmt.Errorf("sending manual response: %w", err)
		}
		o.logger.Info("manual response sent to channel",
			zap.String("session_id", sessionID),
			zap.String("username", username))
		return nil
	}

	cost := ad.SendCost()
	if gate := o.limiter.ReserveSend(s.cfg.Platform, cost.Units); !gate.Allowed {
		return fmt.Errorf("manual response rejected: %s", gate.Reason)
	}

	if err := ad.Send(ctx, s.cfg, username, text); err != nil {
		o.limiter.RefundSend(s.cfg.Platform, cost.Units)
		return fmt.Errorf("sending manual response: %w", err)
	}

	o.logger.Info("manual response sent",
		zap.String("session_id", sessionID),
		zap.String("username", username))
	return nil
}

// SessionStats reports whether a session is active and how much of its
// response budget remains.
func (o *Orchestrator) SessionStats(id string) Stats {
	stats := Stats{
		State:              StateStopped,
		RemainingResponses: o.limiter.SessionRemainingResponses(id),
		Limits:             o.limiter.Stats(),
	}

	// Session state is mutated under o.mu by start and teardown, so it must
	// be read under the same lock.
	o.mu.Lock()
	if s, ok := o.sessions[id]; ok {
		stats.Active = s.state == StateActive
		stats.State = s.state
	}
	o.mu.Unlock()
	return stats
}

// ActiveSessionIDs lists the ids of sessions not yet stopped.
func (o *Orchestrator) ActiveSessionIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	return ids
}
