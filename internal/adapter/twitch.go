package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/xaenox/liveagent/internal/models"
	"go.uber.org/zap"
)

const (
	twitchDefaultIRCURL   = "wss://irc-ws.chat.twitch.tv:443"
	twitchDefaultHelixURL = "https://api.twitch.tv/helix"
	twitchMaxReconnects   = 5
	twitchChannelBuffer   = 64
)

var (
	twitchUserRe = regexp.MustCompile(`:(\w+)!\w+@[\w.]+ PRIVMSG`)
	twitchTextRe = regexp.MustCompile(`PRIVMSG #\w+ :(.+)$`)
)

// TwitchAdapter reads chat through Twitch IRC over a websocket and replies
// with Helix whispers (hard platform limit of 40 per day).
type TwitchAdapter struct {
	http     *http.Client
	ircURL   string
	helixURL string
	logger   *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	stop chan struct{}
}

func NewTwitchAdapter(logger *zap.Logger) *TwitchAdapter {
	return &TwitchAdapter{
		http:     &http.Client{Timeout: 15 * time.Second},
		ircURL:   twitchDefaultIRCURL,
		helixURL: twitchDefaultHelixURL,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

func (a *TwitchAdapter) Platform() models.Platform { return models.PlatformTwitch }

func (a *TwitchAdapter) SendCost() Cost { return Cost{Units: 1} }

// Listen connects to Twitch IRC, joins the channel and streams PRIVMSGs.
// Lost connections are re-dialed with exponential backoff; after
// twitchMaxReconnects consecutive failures the stream ends with a terminal
// error.
func (a *TwitchAdapter) Listen(ctx context.Context, cfg models.SessionConfig) (*Stream, error) {
	if cfg.Twitch == nil {
		return nil, fmt.Errorf("twitch configuration is required")
	}

	if err := a.connect(ctx, cfg.Twitch); err != nil {
		return nil, fmt.Errorf("connecting to twitch irc: %w", err)
	}

	msgs := make(chan models.ChatMessage, twitchChannelBuffer)
	errs := make(chan error, 1)

	go a.readLoop(ctx, cfg.Twitch, msgs, errs)

	return &Stream{Messages: msgs, Errs: errs}, nil
}

func (a *TwitchAdapter) connect(ctx context.Context, cfg *models.TwitchSessionConfig) error {
	conn, _, err := websocket.Dial(ctx, a.ircURL, nil)
	if err != nil {
		return err
	}

	auth := []string{
		"PASS oauth:" + cfg.AccessToken,
		"NICK " + cfg.BotUsername,
		"JOIN #" + cfg.ChannelName,
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
	}
	for _, line := range auth {
		if err := conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
			conn.Close(websocket.StatusInternalError, "auth failed")
			return err
		}
	}

	a.mu.Lock()
	if a.conn != nil {
		a.conn.Close(websocket.StatusNormalClosure, "reconnecting")
	}
	a.conn = conn
	a.mu.Unlock()

	a.logger.Info("connected to twitch irc", zap.String("channel", cfg.ChannelName))
	return nil
}

func (a *TwitchAdapter) readLoop(ctx context.Context, cfg *models.TwitchSessionConfig, msgs chan<- models.ChatMessage, errs chan<- error) {
	defer close(msgs)
	defer close(errs)

	reconnects := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		default:
		}

		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || a.stopped() {
				return
			}
			reconnects++
			if reconnects > twitchMaxReconnects {
				errs <- fmt.Errorf("twitch irc gave up after %d reconnect attempts: %w", twitchMaxReconnects, err)
				return
			}
			delay := time.Second * time.Duration(1<<reconnects)
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
			a.logger.Warn("twitch irc disconnected, reconnecting",
				zap.Error(err),
				zap.Int("attempt", reconnects),
				zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			case <-a.stop:
				return
			}
			if err := a.connect(ctx, cfg); err != nil {
				a.logger.Warn("twitch irc reconnect failed", zap.Error(err))
			}
			continue
		}
		reconnects = 0

		for _, line := range strings.Split(string(data), "\r\n") {
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "PING") {
				if err := conn.Write(ctx, websocket.MessageText, []byte("PONG :tmi.twitch.tv")); err != nil {
					a.logger.Warn("failed to answer irc ping", zap.Error(err))
				}
				continue
			}
			if !strings.Contains(line, "PRIVMSG") {
				continue
			}
			msg, ok := parsePrivMsg(line)
			if !ok {
				a.logger.Warn("dropping malformed irc line", zap.String("line", line))
				continue
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			case <-a.stop:
				return
			}
		}
	}
}

// parsePrivMsg extracts a chat message from a tagged IRC PRIVMSG line.
func parsePrivMsg(line string) (models.ChatMessage, bool) {
	tags := map[string]string{}
	if strings.HasPrefix(line, "@") {
		rawTags := strings.SplitN(line, " ", 2)[0]
		for _, tag := range strings.Split(strings.TrimPrefix(rawTags, "@"), ";") {
			key, value, _ := strings.Cut(tag, "=")
			tags[key] = value
		}
	}

	userMatch := twitchUserRe.FindStringSubmatch(line)
	textMatch := twitchTextRe.FindStringSubmatch(line)
	if userMatch == nil || textMatch == nil {
		return models.ChatMessage{}, false
	}

	msg := models.ChatMessage{
		ID:          tags["id"],
		Username:    userMatch[1],
		DisplayName: tags["display-name"],
		UserID:      tags["user-id"],
		Text:        textMatch[1],
		Timestamp:   time.Now(),
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("twitch-%d", time.Now().UnixNano())
	}
	if msg.DisplayName == "" {
		msg.DisplayName = msg.Username
	}
	return msg, true
}

// Send delivers a whisper to the target user. The caller reserves the
// 40-per-day allowance through the platform gate before invoking this.
func (a *TwitchAdapter) Send(ctx context.Context, cfg models.SessionConfig, target, text string) error {
	if cfg.Twitch == nil {
		return fmt.Errorf("twitch configuration is required")
	}

	toUserID, err := a.UserID(ctx, cfg.Twitch, target)
	if err != nil {
		return fmt.Errorf("resolving twitch user %q: %w", target, err)
	}

	endpoint := fmt.Sprintf("%s/whispers?from_user_id=%s&to_user_id=%s",
		a.helixURL, url.QueryEscape(cfg.Twitch.BotUserID), url.QueryEscape(toUserID))

	payload, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	a.setHelixHeaders(req, cfg.Twitch)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending twitch whisper: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("twitch whisper api error: %d - %s", resp.StatusCode, detail)
	}

	a.logger.Info("sent twitch whisper", zap.String("to_user_id", toUserID))
	return nil
}

// SendChannelMessage posts a public reply into the channel over IRC. Used
// for creator-initiated manual responses; does not touch the whisper quota.
func (a *TwitchAdapter) SendChannelMessage(ctx context.Context, cfg models.SessionConfig, target, text string) error {
	if cfg.Twitch == nil {
		return fmt.Errorf("twitch configuration is required")
	}

	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected to twitch irc")
	}

	line := fmt.Sprintf("PRIVMSG #%s :@%s %s", cfg.Twitch.ChannelName, target, text)
	if err := conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
		return fmt.Errorf("posting channel message: %w", err)
	}

	a.logger.Info("sent twitch channel message",
		zap.String("channel", cfg.Twitch.ChannelName),
		zap.String("target", target))
	return nil
}

// UserID resolves a Twitch login name to its numeric user id.
func (a *TwitchAdapter) UserID(ctx context.Context, cfg *models.TwitchSessionConfig, login string) (string, error) {
	endpoint := a.helixURL + "/users?login=" + url.QueryEscape(login)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	a.setHelixHeaders(req, cfg)

	resp, err := a.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("twitch api error: %d %s", resp.StatusCode, resp.Status)
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Data) == 0 {
		return "", fmt.Errorf("user not found: %s", login)
	}
	return parsed.Data[0].ID, nil
}

func (a *TwitchAdapter) setHelixHeaders(req *http.Request, cfg *models.TwitchSessionConfig) {
	req.Header.Set("Client-Id", cfg.ClientID)
	req.Header.Set("Authorization", "Bearer "+cfg.AccessToken)
}

func (a *TwitchAdapter) stopped() bool {
	select {
	case <-a.stop:
		return true
	default:
		return false
	}
}

// Stop closes the IRC connection and ends the read loop.
func (a *TwitchAdapter) Stop() {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		a.conn.Close(websocket.StatusNormalClosure, "session stopped")
		a.conn = nil
	}
}
