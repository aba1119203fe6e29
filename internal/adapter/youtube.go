package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/xaenox/liveagent/internal/models"
	"github.com/xaenox/liveagent/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	youtubeDefaultBaseURL      = "https://www.googleapis.com/youtube/v3"
	youtubeDefaultPollInterval = 5 * time.Second
	youtubeMaxPollFailures     = 5
	youtubeChannelBuffer       = 64
)

// QuotaReserver is the slice of the rate limiter the YouTube adapter needs
// to pay for its own list calls.
type QuotaReserver interface {
	ReserveYouTubeQuota(units int) ratelimit.Result
}

// YouTubeAdapter polls the YouTube Live Chat API. Each list call costs 5
// quota units, reserved before the request goes out; the daily pool is
// shared with sends across all sessions.
type YouTubeAdapter struct {
	http    *http.Client
	quota   QuotaReserver
	baseURL string
	logger  *zap.Logger
	stop    chan struct{}

	// liveChatID is the chat resolved in Listen, kept so Send works for
	// sessions configured with only a video id. One adapter instance serves
	// one session, and Listen completes before any send.
	liveChatID string
}

func NewYouTubeAdapter(quota QuotaReserver, logger *zap.Logger) *YouTubeAdapter {
	return &YouTubeAdapter{
		http:    &http.Client{Timeout: 15 * time.Second},
		quota:   quota,
		baseURL: youtubeDefaultBaseURL,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

func (a *YouTubeAdapter) Platform() models.Platform { return models.PlatformYouTube }

func (a *YouTubeAdapter) SendCost() Cost { return Cost{Units: ratelimit.YouTubePostCost} }

// Listen performs the first poll synchronously, so a bad live chat id or
// revoked key fails session start instead of surfacing later. Pagination
// state lives in the polling goroutine and dies with it.
func (a *YouTubeAdapter) Listen(ctx context.Context, cfg models.SessionConfig) (*Stream, error) {
	if cfg.YouTube == nil {
		return nil, fmt.Errorf("youtube configuration is required")
	}

	yt := *cfg.YouTube
	if yt.LiveChatID == "" {
		if yt.VideoID == "" {
			return nil, fmt.Errorf("youtube live chat id or video id is required")
		}
		id, err := a.LiveChatIDForVideo(ctx, yt.VideoID, yt.APIKey)
		if err != nil {
			return nil, fmt.Errorf("resolving live chat id: %w", err)
		}
		a.logger.Info("resolved live chat id",
			zap.String("video_id", yt.VideoID),
			zap.String("live_chat_id", id))
		yt.LiveChatID = id
	}
	a.liveChatID = yt.LiveChatID

	msgs := make(chan models.ChatMessage, youtubeChannelBuffer)
	errs := make(chan error, 1)

	page, err := a.fetchPage(ctx, &yt, "")
	if err != nil {
		return nil, fmt.Errorf("initial youtube poll: %w", err)
	}

	go func() {
		defer close(msgs)
		defer close(errs)

		failures := 0
		for {
			for _, m := range page.messages {
				select {
				case msgs <- m:
				case <-ctx.Done():
					return
				case <-a.stop:
					return
				}
			}

			select {
			case <-time.After(page.interval):
			case <-ctx.Done():
				return
			case <-a.stop:
				return
			}

			next, err := a.fetchPage(ctx, &yt, page.nextToken)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				a.logger.Warn("youtube poll failed",
					zap.Error(err),
					zap.Int("attempt", failures))
				if failures >= youtubeMaxPollFailures {
					errs <- fmt.Errorf("youtube polling gave up after %d failures: %w", failures, err)
					return
				}
				// Exponential backoff on consecutive failures, capped at 30s.
				delay := youtubeDefaultPollInterval * time.Duration(1<<failures)
				if delay > 30*time.Second {
					delay = 30 * time.Second
				}
				page.messages = nil
				page.interval = delay
				continue
			}
			failures = 0
			page = next
		}
	}()

	return &Stream{Messages: msgs, Errs: errs}, nil
}

type youtubePage struct {
	messages  []models.ChatMessage
	nextToken string
	interval  time.Duration
}

type youtubeListResponse struct {
	NextPageToken         string `json:"nextPageToken"`
	PollingIntervalMillis int    `json:"pollingIntervalMillis"`
	Items                 []struct {
		ID      string `json:"id"`
		Snippet struct {
			DisplayMessage string    `json:"displayMessage"`
			PublishedAt    time.Time `json:"publishedAt"`
		} `json:"snippet"`
		AuthorDetails struct {
			ChannelID   string `json:"channelId"`
			DisplayName string `json:"displayName"`
		} `json:"authorDetails"`
	} `json:"items"`
}

func (a *YouTubeAdapter) fetchPage(ctx context.Context, cfg *models.YouTubeSessionConfig, pageToken string) (youtubePage, error) {
	if res := a.quota.ReserveYouTubeQuota(ratelimit.YouTubePollCost); !res.Allowed {
		return youtubePage{}, fmt.Errorf("poll quota rejected: %s", res.Reason)
	}

	params := url.Values{
		"part":       {"snippet,authorDetails"},
		"liveChatId": {cfg.LiveChatID},
		"key":        {cfg.APIKey},
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	var parsed youtubeListResponse
	if err := a.getJSON(ctx, a.baseURL+"/liveChat/messages?"+params.Encode(), &parsed); err != nil {
		return youtubePage{}, err
	}

	return decodeYouTubePage(parsed, a.logger), nil
}

func decodeYouTubePage(parsed youtubeListResponse, logger *zap.Logger) youtubePage {
	page := youtubePage{
		nextToken: parsed.NextPageToken,
		interval:  youtubeDefaultPollInterval,
	}
	if parsed.PollingIntervalMillis > 0 {
		page.interval = time.Duration(parsed.PollingIntervalMillis) * time.Millisecond
	}

	for _, item := range parsed.Items {
		if item.Snippet.DisplayMessage == "" || item.AuthorDetails.DisplayName == "" {
			logger.Warn("dropping malformed youtube chat item", zap.String("item_id", item.ID))
			continue
		}
		ts := item.Snippet.PublishedAt
		if ts.IsZero() {
			ts = time.Now()
		}
		page.messages = append(page.messages, models.ChatMessage{
			ID:        item.ID,
			Username:  item.AuthorDetails.DisplayName,
			UserID:    item.AuthorDetails.ChannelID,
			Text:      item.Snippet.DisplayMessage,
			Timestamp: ts,
		})
	}
	return page
}

// Send posts a text message to the live chat. The 50-unit insert cost is
// reserved by the caller through the platform gate, not here.
func (a *YouTubeAdapter) Send(ctx context.Context, cfg models.SessionConfig, _ string, text string) error {
	if cfg.YouTube == nil {
		return fmt.Errorf("youtube configuration is required")
	}

	chatID := cfg.YouTube.LiveChatID
	if chatID == "" {
		chatID = a.liveChatID
	}

	body := map[string]any{
		"snippet": map[string]any{
			"liveChatId": chatID,
			"type":       "textMessageEvent",
			"textMessageDetails": map[string]any{
				"messageText": text,
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := a.baseURL + "/liveChat/messages?part=snippet&key=" + url.QueryEscape(cfg.YouTube.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting live chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("youtube api error: %d - %s", resp.StatusCode, detail)
	}

	a.logger.Info("posted message to youtube live chat",
		zap.String("live_chat_id", chatID))
	return nil
}

// Stop ends the polling loop. Pagination state is loop-local, so a later
// Listen starts from a clean cursor by construction.
func (a *YouTubeAdapter) Stop() {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
}

// LiveChatIDForVideo resolves the active live chat id of a broadcast video.
func (a *YouTubeAdapter) LiveChatIDForVideo(ctx context.Context, videoID, apiKey string) (string, error) {
	params := url.Values{
		"part": {"liveStreamingDetails"},
		"id":   {videoID},
		"key":  {apiKey},
	}

	var parsed struct {
		Items []struct {
			LiveStreamingDetails struct {
				ActiveLiveChatID string `json:"activeLiveChatId"`
			} `json:"liveStreamingDetails"`
		} `json:"items"`
	}
	if err := a.getJSON(ctx, a.baseURL+"/videos?"+params.Encode(), &parsed); err != nil {
		return "", err
	}
	if len(parsed.Items) == 0 {
		return "", fmt.Errorf("video not found: %s", videoID)
	}
	id := parsed.Items[0].LiveStreamingDetails.ActiveLiveChatID
	if id == "" {
		return "", fmt.Errorf("no active live chat for video: %s", videoID)
	}
	return id, nil
}

func (a *YouTubeAdapter) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("youtube api error: %d - %s", resp.StatusCode, detail)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
