// Package ratelimit enforces the per-user, per-session and per-platform
// quota windows that gate every auto-response.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/liveagent/internal/models"
	"go.uber.org/zap"
)

const (
	// YouTubePollCost is the quota price of one liveChatMessages.list call.
	YouTubePollCost = 5
	// YouTubePostCost is the quota price of one liveChatMessages.insert call.
	YouTubePostCost = 50

	resetWindow     = 24 * time.Hour
	cleanupInterval = 10 * time.Minute
)

// Config holds the tunable limits. Zero values fall back to the defaults
// from DefaultConfig.
type Config struct {
	MaxResponsesPerUser      int
	MaxResponsesPerSession   int
	MinDelayBetweenResponses time.Duration
	TwitchWhispersPerDay     int
	YouTubeQuotaPerDay       int
}

// DefaultConfig returns the platform-safe defaults.
func DefaultConfig() Config {
	return Config{
		MaxResponsesPerUser:      3,
		MaxResponsesPerSession:   100,
		MinDelayBetweenResponses: 30 * time.Second,
		TwitchWhispersPerDay:     40,
		YouTubeQuotaPerDay:       10000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxResponsesPerUser <= 0 {
		c.MaxResponsesPerUser = d.MaxResponsesPerUser
	}
	if c.MaxResponsesPerSession <= 0 {
		c.MaxResponsesPerSession = d.MaxResponsesPerSession
	}
	if c.MinDelayBetweenResponses <= 0 {
		c.MinDelayBetweenResponses = d.MinDelayBetweenResponses
	}
	if c.TwitchWhispersPerDay <= 0 {
		c.TwitchWhispersPerDay = d.TwitchWhispersPerDay
	}
	if c.YouTubeQuotaPerDay <= 0 {
		c.YouTubeQuotaPerDay = d.YouTubeQuotaPerDay
	}
	return c
}

// Result is the verdict of a single gate check. RetryAfter is set when the
// rejection is time-based (min-delay or a rolling 24h window).
type Result struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

type userWindow struct {
	responseCount int
	lastResponse  time.Time
	firstResponse time.Time
}

// Stats is a point-in-time snapshot of limiter state.
type Stats struct {
	TwitchWhispersUsed int
	YouTubeQuotaUsed   int
	ActiveUserWindows  int
	ActiveSessions     int
}

// Limiter owns all rate-limit counters. All mutation goes through its
// methods; a single mutex serializes check-and-reserve so two sessions
// sharing the same platform pool cannot overspend it.
type Limiter struct {
	mu  sync.Mutex
	cfg Config

	users    map[string]*userWindow
	sessions map[string]int

	twitchWhispers int
	twitchResetAt  time.Time
	youtubeUsed    int
	youtubeResetAt time.Time

	logger *zap.Logger
	now    func() time.Time
}

// New creates a Limiter with the given config and logger.
func New(cfg Config, logger *zap.Logger) *Limiter {
	now := time.Now
	return &Limiter{
		cfg:            cfg.withDefaults(),
		users:          make(map[string]*userWindow),
		sessions:       make(map[string]int),
		twitchResetAt:  now().Add(resetWindow),
		youtubeResetAt: now().Add(resetWindow),
		logger:         logger,
		now:            now,
	}
}

func userKey(sessionID, username string) string {
	return sessionID + ":" + username
}

// CheckUserLimit reports whether one more response to the given user is
// allowed. It never consumes the limit and records nothing: a window is
// created only when RecordUserResponse counts a sent response.
func (l *Limiter) CheckUserLimit(sessionID, username string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.users[userKey(sessionID, username)]
	if !ok {
		return Result{Allowed: true}
	}

	if w.responseCount >= l.cfg.MaxResponsesPerUser {
		return Result{
			Reason: fmt.Sprintf("maximum %d responses per user reached", l.cfg.MaxResponsesPerUser),
		}
	}

	// The delay rule does not apply before the first recorded response.
	if !w.lastResponse.IsZero() {
		if since := l.now().Sub(w.lastResponse); since < l.cfg.MinDelayBetweenResponses {
			return Result{
				Reason:     "too soon since last response to this user",
				RetryAfter: l.cfg.MinDelayBetweenResponses - since,
			}
		}
	}

	return Result{Allowed: true}
}

// CheckSessionLimit reports whether the session's total auto-response cap
// still has room. It never consumes the limit.
func (l *Limiter) CheckSessionLimit(sessionID string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sessions[sessionID] >= l.cfg.MaxResponsesPerSession {
		return Result{
			Reason: fmt.Sprintf("maximum %d responses per session reached", l.cfg.MaxResponsesPerSession),
		}
	}
	return Result{Allowed: true}
}

// RecordUserResponse counts one sent response against the user window.
// Call only after a successful send.
func (l *Limiter) RecordUserResponse(sessionID, username string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := userKey(sessionID, username)
	w, ok := l.users[key]
	if !ok {
		w = &userWindow{firstResponse: now}
		l.users[key] = w
	}
	w.responseCount++
	w.lastResponse = now

	l.logger.Info("recorded user response",
		zap.String("session_id", sessionID),
		zap.String("username", username),
		zap.Int("count", w.responseCount))
}

// RecordSessionResponse counts one sent response against the session cap.
func (l *Limiter) RecordSessionResponse(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sessions[sessionID]++
	l.logger.Info("recorded session response",
		zap.String("session_id", sessionID),
		zap.Int("count", l.sessions[sessionID]))
}

// resetYouTubeLocked rolls the quota window forward when it has expired.
// Caller must hold l.mu.
func (l *Limiter) resetYouTubeLocked(now time.Time) {
	if now.Before(l.youtubeResetAt) {
		return
	}
	l.youtubeUsed = 0
	l.youtubeResetAt = now.Add(resetWindow)
	l.logger.Info("youtube quota reset")
}

func (l *Limiter) resetTwitchLocked(now time.Time) {
	if now.Before(l.twitchResetAt) {
		return
	}
	l.twitchWhispers = 0
	l.twitchResetAt = now.Add(resetWindow)
	l.logger.Info("twitch whisper limit reset")
}

// CheckYouTubeQuota reports whether the daily pool can absorb the given
// units. It is side-effect free apart from rolling an expired window.
func (l *Limiter) CheckYouTubeQuota(units int) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkYouTubeLocked(units)
}

func (l *Limiter) checkYouTubeLocked(units int) Result {
	now := l.now()
	l.resetYouTubeLocked(now)

	if l.youtubeUsed+units > l.cfg.YouTubeQuotaPerDay {
		return Result{
			Reason:     fmt.Sprintf("youtube daily quota limit reached (%d)", l.cfg.YouTubeQuotaPerDay),
			RetryAfter: l.youtubeResetAt.Sub(now),
		}
	}
	return Result{Allowed: true}
}

// ReserveYouTubeQuota atomically checks and consumes quota units. The check
// and the reservation happen under one lock acquisition so concurrent
// sessions sharing the pool cannot overspend between them.
func (l *Limiter) ReserveYouTubeQuota(units int) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := l.checkYouTubeLocked(units)
	if !res.Allowed {
		return res
	}
	l.youtubeUsed += units
	l.logger.Debug("reserved youtube quota",
		zap.Int("units", units),
		zap.Int("used_today", l.youtubeUsed))
	return res
}

// RefundYouTubeQuota returns units reserved for a send that failed.
func (l *Limiter) RefundYouTubeQuota(units int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.youtubeUsed -= units
	if l.youtubeUsed < 0 {
		l.youtubeUsed = 0
	}
}

// CheckTwitchWhisperLimit reports whether one more whisper fits in the
// rolling 24h window.
func (l *Limiter) CheckTwitchWhisperLimit() Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkTwitchLocked()
}

func (l *Limiter) checkTwitchLocked() Result {
	now := l.now()
	l.resetTwitchLocked(now)

	if l.twitchWhispers >= l.cfg.TwitchWhispersPerDay {
		return Result{
			Reason:     fmt.Sprintf("twitch whisper daily limit reached (%d)", l.cfg.TwitchWhispersPerDay),
			RetryAfter: l.twitchResetAt.Sub(now),
		}
	}
	return Result{Allowed: true}
}

// ReserveTwitchWhisper atomically checks and consumes one whisper.
func (l *Limiter) ReserveTwitchWhisper() Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := l.checkTwitchLocked()
	if !res.Allowed {
		return res
	}
	l.twitchWhispers++
	l.logger.Debug("reserved twitch whisper", zap.Int("used_today", l.twitchWhispers))
	return res
}

// RefundTwitchWhisper returns a whisper reserved for a send that failed.
func (l *Limiter) RefundTwitchWhisper() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.twitchWhispers > 0 {
		l.twitchWhispers--
	}
}

// ReserveSend consumes the platform-global allowance for one outbound send
// of the given cost. TikTok has no outbound quota; queued-for-manual
// messages do not count against anything.
func (l *Limiter) ReserveSend(platform models.Platform, units int) Result {
	switch platform {
	case models.PlatformYouTube:
		return l.ReserveYouTubeQuota(units)
	case models.PlatformTwitch:
		return l.ReserveTwitchWhisper()
	default:
		return Result{Allowed: true}
	}
}

// RefundSend undoes a ReserveSend after a failed delivery.
func (l *Limiter) RefundSend(platform models.Platform, units int) {
	switch platform {
	case models.PlatformYouTube:
		l.RefundYouTubeQuota(units)
	case models.PlatformTwitch:
		l.RefundTwitchWhisper()
	}
}

// UserRemainingResponses returns how many responses the user may still get.
func (l *Limiter) UserRemainingResponses(sessionID, username string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.users[userKey(sessionID, username)]
	if !ok {
		return l.cfg.MaxResponsesPerUser
	}
	if r := l.cfg.MaxResponsesPerUser - w.responseCount; r > 0 {
		return r
	}
	return 0
}

// SessionRemainingResponses returns how many auto-responses the session may
// still send.
func (l *Limiter) SessionRemainingResponses(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r := l.cfg.MaxResponsesPerSession - l.sessions[sessionID]; r > 0 {
		return r
	}
	return 0
}

// TwitchRemainingWhispers returns today's unused whisper allowance.
func (l *Limiter) TwitchRemainingWhispers() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r := l.cfg.TwitchWhispersPerDay - l.twitchWhispers; r > 0 {
		return r
	}
	return 0
}

// YouTubeRemainingQuota returns today's unused quota units.
func (l *Limiter) YouTubeRemainingQuota() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r := l.cfg.YouTubeQuotaPerDay - l.youtubeUsed; r > 0 {
		return r
	}
	return 0
}

// Stats returns a snapshot of current counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		TwitchWhispersUsed: l.twitchWhispers,
		YouTubeQuotaUsed:   l.youtubeUsed,
		ActiveUserWindows:  len(l.users),
		ActiveSessions:     len(l.sessions),
	}
}

// ResetSession drops the session counter and every user window belonging to
// the session. Called when a session stops.
func (l *Limiter) ResetSession(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prefix := sessionID + ":"
	for key := range l.users {
		if strings.HasPrefix(key, prefix) {
			delete(l.users, key)
		}
	}
	delete(l.sessions, sessionID)

	l.logger.Info("reset limits for session", zap.String("session_id", sessionID))
}

// StartCleanup launches a background sweep that purges user windows older
// than 24h to bound memory. Stops when ctx is canceled.
func (l *Limiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (l *Limiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	purged := 0
	for key, w := range l.users {
		if now.Sub(w.firstResponse) > resetWindow {
			delete(l.users, key)
			purged++
		}
	}
	if purged > 0 {
		l.logger.Info("purged expired user windows", zap.Int("count", purged))
	}
}
