package models

import "time"

// Platform identifies one of the supported streaming platforms.
type Platform string

const (
	PlatformYouTube Platform = "YOUTUBE"
	PlatformTwitch  Platform = "TWITCH"
	PlatformTikTok  Platform = "TIKTOK"
)

// IntentType is the commercial intent detected in a chat message.
type IntentType string

const (
	IntentProductInquiry  IntentType = "PRODUCT_INQUIRY"
	IntentPurchaseIntent  IntentType = "PURCHASE_INTENT"
	IntentGeneralQuestion IntentType = "GENERAL_QUESTION"
	IntentComplaint       IntentType = "COMPLAINT"
	IntentPraise          IntentType = "PRAISE"
	IntentOther           IntentType = "OTHER"
)

// ChatMessage is one inbound chat event normalized across platforms.
// Produced by an adapter, consumed once by the orchestrator, never mutated.
type ChatMessage struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

// IntentResult is the classifier's verdict for a single message.
type IntentResult struct {
	Intent               IntentType `json:"intent"`
	Confidence           float64    `json:"confidence"`
	ExtractedProductName string     `json:"extracted_product_name,omitempty"`
	LeadScore            int        `json:"lead_score"`
	RequiresHumanReview  bool       `json:"requires_human_review"`
}

// InteractionResult is the record emitted for every processed message and
// handed to the persistence collaborator.
type InteractionResult struct {
	InteractionID       string     `json:"interaction_id"`
	SessionID           string     `json:"session_id"`
	Username            string     `json:"username"`
	UserMessage         string     `json:"user_message"`
	Intent              IntentType `json:"intent"`
	AgentResponse       string     `json:"agent_response,omitempty"`
	WasAutoResponded    bool       `json:"was_auto_responded"`
	LeadScore           int        `json:"lead_score"`
	MatchedProduct      *Product   `json:"matched_product,omitempty"`
	RequiresHumanReview bool       `json:"requires_human_review"`
	CreatedAt           time.Time  `json:"created_at"`
}
