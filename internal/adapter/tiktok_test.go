package adapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xaenox/liveagent/internal/models"
	"go.uber.org/zap"
)

func TestTikTokSendUnsupported(t *testing.T) {
	a := NewTikTokAdapter(zap.NewNop())

	err := a.Send(context.Background(), models.SessionConfig{TikTok: &models.TikTokSessionConfig{}}, "alice", "hi")
	if !errors.Is(err, ErrSendUnsupported) {
		t.Errorf("Send error = %v, want ErrSendUnsupported", err)
	}
	if a.SendCost().Units != 0 {
		t.Error("an unsupported send must not declare a quota cost")
	}
}

func TestCommentFromWebhook(t *testing.T) {
	payload := []byte(`{
		"event_type": "live.comment",
		"data": {
			"comment_id": "c1",
			"text": "where can I buy this",
			"create_time": 1748779200,
			"user": {"nickname": "carol", "user_id": "u9"}
		}
	}`)

	msg, ok := CommentFromWebhook(payload)
	if !ok {
		t.Fatal("expected comment event to decode")
	}
	if msg.ID != "c1" || msg.Username != "carol" || msg.UserID != "u9" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Text != "where can I buy this" {
		t.Errorf("Text = %q", msg.Text)
	}
}

func TestCommentFromWebhook_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"other event type", `{"event_type": "live.gift", "data": {"text": "x", "user": {"nickname": "n"}}}`},
		{"missing text", `{"event_type": "live.comment", "data": {"user": {"nickname": "n"}}}`},
		{"not json", `<xml/>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := CommentFromWebhook([]byte(tt.payload)); ok {
				t.Error("expected payload to be rejected")
			}
		})
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"event_type":"live.comment"}`)
	secret := "app-secret"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	good := hex.EncodeToString(mac.Sum(nil))

	if !VerifyWebhookSignature(payload, good, secret) {
		t.Error("valid signature rejected")
	}
	if VerifyWebhookSignature(payload, good, "wrong-secret") {
		t.Error("signature verified with wrong secret")
	}
	if VerifyWebhookSignature([]byte("tampered"), good, secret) {
		t.Error("signature verified for tampered payload")
	}
}

func newRoomInfoServer(t *testing.T, status string, viewers int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/live/room/info/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprintf(w, `{"data": {"room_info": {"status": %q, "viewer_count": %d, "start_time": 1748779200}}}`,
			status, viewers)
	}))
}

func TestLiveStatus(t *testing.T) {
	srv := newRoomInfoServer(t, "LIVE", 240)
	defer srv.Close()

	a := NewTikTokAdapter(zap.NewNop())
	a.baseURL = srv.URL

	live, viewers, start, err := a.LiveStatus(context.Background(), &models.TikTokSessionConfig{LiveRoomID: "room-1"})
	if err != nil {
		t.Fatal(err)
	}
	if !live {
		t.Error("expected room to be live")
	}
	if viewers != 240 {
		t.Errorf("viewers = %d, want 240", viewers)
	}
	if start != time.Unix(1748779200, 0) {
		t.Errorf("start = %v", start)
	}
}

func TestListenRejectsOfflineRoom(t *testing.T) {
	srv := newRoomInfoServer(t, "FINISHED", 0)
	defer srv.Close()

	a := NewTikTokAdapter(zap.NewNop())
	a.baseURL = srv.URL

	cfg := models.SessionConfig{TikTok: &models.TikTokSessionConfig{LiveRoomID: "room-1"}}
	if _, err := a.Listen(context.Background(), cfg); err == nil {
		t.Fatal("expected listen to fail for a finished room")
	}
}
