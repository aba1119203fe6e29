package adapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/xaenox/liveagent/internal/models"
	"go.uber.org/zap"
)

const (
	tiktokDefaultBaseURL      = "https://open-api.tiktok.com"
	tiktokDefaultPollInterval = 5 * time.Second
	tiktokMaxPollFailures     = 5
	tiktokChannelBuffer       = 64
)

// TikTokAdapter polls a TikTok live room's comment list. The platform
// offers no API for posting comments, so Send always fails with
// ErrSendUnsupported before any quota is touched.
type TikTokAdapter struct {
	http    *http.Client
	baseURL string
	logger  *zap.Logger
	stop    chan struct{}
}

func NewTikTokAdapter(logger *zap.Logger) *TikTokAdapter {
	return &TikTokAdapter{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: tiktokDefaultBaseURL,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

func (a *TikTokAdapter) Platform() models.Platform { return models.PlatformTikTok }

func (a *TikTokAdapter) SendCost() Cost { return Cost{} }

// Listen verifies the room is actually live, performs the first comment
// fetch synchronously, then keeps polling every five seconds with
// cursor-based pagination.
func (a *TikTokAdapter) Listen(ctx context.Context, cfg models.SessionConfig) (*Stream, error) {
	if cfg.TikTok == nil {
		return nil, fmt.Errorf("tiktok configuration is required")
	}

	live, viewers, _, err := a.LiveStatus(ctx, cfg.TikTok)
	if err != nil {
		return nil, fmt.Errorf("checking tiktok room status: %w", err)
	}
	if !live {
		return nil, fmt.Errorf("tiktok room %s is not live", cfg.TikTok.LiveRoomID)
	}
	a.logger.Info("tiktok room is live",
		zap.String("room_id", cfg.TikTok.LiveRoomID),
		zap.Int("viewer_count", viewers))

	msgs := make(chan models.ChatMessage, tiktokChannelBuffer)
	errs := make(chan error, 1)

	comments, cursor, err := a.fetchComments(ctx, cfg.TikTok, "")
	if err != nil {
		return nil, fmt.Errorf("initial tiktok poll: %w", err)
	}

	go func() {
		defer close(msgs)
		defer close(errs)

		failures := 0
		for {
			for _, m := range comments {
				select {
				case msgs <- m:
				case <-ctx.Done():
					return
				case <-a.stop:
					return
				}
			}

			select {
			case <-time.After(tiktokDefaultPollInterval):
			case <-ctx.Done():
				return
			case <-a.stop:
				return
			}

			var err error
			comments, cursor, err = a.fetchComments(ctx, cfg.TikTok, cursor)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				a.logger.Warn("tiktok poll failed",
					zap.Error(err),
					zap.Int("attempt", failures))
				if failures >= tiktokMaxPollFailures {
					errs <- fmt.Errorf("tiktok polling gave up after %d failures: %w", failures, err)
					return
				}
				comments = nil
				continue
			}
			failures = 0
		}
	}()

	return &Stream{Messages: msgs, Errs: errs}, nil
}

type tiktokCommentPayload struct {
	CommentID  string `json:"comment_id"`
	Text       string `json:"text"`
	CreateTime int64  `json:"create_time"`
	User       struct {
		Nickname string `json:"nickname"`
		UserID   string `json:"user_id"`
	} `json:"user"`
}

type tiktokListResponse struct {
	Data struct {
		ErrorCode   int                    `json:"error_code"`
		Description string                 `json:"description"`
		Cursor      string                 `json:"cursor"`
		Comments    []tiktokCommentPayload `json:"comments"`
	} `json:"data"`
}

func (a *TikTokAdapter) fetchComments(ctx context.Context, cfg *models.TikTokSessionConfig, cursor string) ([]models.ChatMessage, string, error) {
	if cursor == "" {
		cursor = "0"
	}
	endpoint := fmt.Sprintf("%s/live/comment/list/?room_id=%s&cursor=%s",
		a.baseURL, url.QueryEscape(cfg.LiveRoomID), url.QueryEscape(cursor))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, cursor, err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.AccessToken)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, cursor, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, cursor, fmt.Errorf("tiktok api error: %d - %s", resp.StatusCode, detail)
	}

	var parsed tiktokListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, cursor, err
	}
	if parsed.Data.ErrorCode != 0 {
		return nil, cursor, fmt.Errorf("tiktok api error: %s", parsed.Data.Description)
	}

	var out []models.ChatMessage
	for _, c := range parsed.Data.Comments {
		msg, ok := decodeTikTokComment(c)
		if !ok {
			a.logger.Warn("dropping malformed tiktok comment", zap.String("comment_id", c.CommentID))
			continue
		}
		out = append(out, msg)
	}

	next := cursor
	if parsed.Data.Cursor != "" {
		next = parsed.Data.Cursor
	}
	return out, next, nil
}

func decodeTikTokComment(c tiktokCommentPayload) (models.ChatMessage, bool) {
	if c.Text == "" || c.User.Nickname == "" {
		return models.ChatMessage{}, false
	}
	id := c.CommentID
	if id == "" {
		id = fmt.Sprintf("tiktok-%d", time.Now().UnixNano())
	}
	ts := time.Now()
	if c.CreateTime > 0 {
		ts = time.Unix(c.CreateTime, 0)
	}
	return models.ChatMessage{
		ID:        id,
		Username:  c.User.Nickname,
		UserID:    c.User.UserID,
		Text:      c.Text,
		Timestamp: ts,
	}, true
}

// Send is a permanent rejection: TikTok exposes no comment-posting API.
// Messages that would have been sent are left for manual delivery and do
// not count against any quota.
func (a *TikTokAdapter) Send(_ context.Context, _ models.SessionConfig, _, _ string) error {
	return ErrSendUnsupported
}

// Stop ends the polling loop and forgets the comment cursor.
func (a *TikTokAdapter) Stop() {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
}

// CommentFromWebhook decodes a live.comment event pushed by TikTok's
// webhook delivery, for deployments that register a webhook instead of
// polling. Returns false for other event types or malformed payloads.
func CommentFromWebhook(payload []byte) (models.ChatMessage, bool) {
	var event struct {
		EventType string               `json:"event_type"`
		Data      tiktokCommentPayload `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return models.ChatMessage{}, false
	}
	if event.EventType != "live.comment" {
		return models.ChatMessage{}, false
	}
	return decodeTikTokComment(event.Data)
}

// VerifyWebhookSignature checks the HMAC-SHA256 signature TikTok attaches
// to webhook deliveries.
func VerifyWebhookSignature(payload []byte, signature, appSecret string) bool {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// LiveStatus reports whether the room is live, its viewer count and start
// time.
func (a *TikTokAdapter) LiveStatus(ctx context.Context, cfg *models.TikTokSessionConfig) (bool, int, time.Time, error) {
	endpoint := fmt.Sprintf("%s/live/room/info/?room_id=%s", a.baseURL, url.QueryEscape(cfg.LiveRoomID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, 0, time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+cfg.AccessToken)

	resp, err := a.http.Do(req)
	if err != nil {
		return false, 0, time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, 0, time.Time{}, fmt.Errorf("tiktok api error: %d %s", resp.StatusCode, resp.Status)
	}

	var parsed struct {
		Data struct {
			ErrorCode   int    `json:"error_code"`
			Description string `json:"description"`
			RoomInfo    struct {
				Status      string `json:"status"`
				ViewerCount int    `json:"viewer_count"`
				StartTime   int64  `json:"start_time"`
			} `json:"room_info"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, 0, time.Time{}, err
	}
	if parsed.Data.ErrorCode != 0 {
		return false, 0, time.Time{}, fmt.Errorf("tiktok api error: %s", parsed.Data.Description)
	}

	var start time.Time
	if parsed.Data.RoomInfo.StartTime > 0 {
		start = time.Unix(parsed.Data.RoomInfo.StartTime, 0)
	}
	return parsed.Data.RoomInfo.Status == "LIVE", parsed.Data.RoomInfo.ViewerCount, start, nil
}
