package classifier

import (
	"context"
	"testing"

	"github.com/xaenox/liveagent/internal/models"
	"go.uber.org/zap"
)

var testProducts = []models.Product{
	{
		ID:           "prod-1",
		Name:         "Ocean Blue Pullover Hoodie",
		Description:  "Soft fleece hoodie",
		Price:        models.Price{AmountMicros: 49_990_000, CurrencyCode: "USD"},
		PurchaseLink: "https://shop.example/hoodie",
	},
	{
		ID:          "prod-2",
		Name:        "Canvas Tote",
		Description: "Everyday bag",
		Price:       models.Price{AmountMicros: 19_990_000, CurrencyCode: "USD"},
	},
}

func TestParseIntentResponse(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name string
		raw  string
		want models.IntentResult
	}{
		{
			name: "well formed",
			raw:  `{"intent":"PURCHASE_INTENT","confidence":0.9,"extracted_product_name":"hoodie","lead_score":85,"requires_human_review":false}`,
			want: models.IntentResult{
				Intent:               models.IntentPurchaseIntent,
				Confidence:           0.9,
				ExtractedProductName: "hoodie",
				LeadScore:            85,
			},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"intent\":\"PRAISE\",\"confidence\":0.8,\"lead_score\":10}\n```",
			want: models.IntentResult{Intent: models.IntentPraise, Confidence: 0.8, LeadScore: 10},
		},
		{
			name: "out of range values clamped",
			raw:  `{"intent":"PRODUCT_INQUIRY","confidence":1.7,"lead_score":140}`,
			want: models.IntentResult{Intent: models.IntentProductInquiry, Confidence: 1, LeadScore: 100},
		},
		{
			name: "unknown intent mapped to OTHER",
			raw:  `{"intent":"SHOPPING","confidence":0.6}`,
			want: models.IntentResult{Intent: models.IntentOther, Confidence: 0.6},
		},
		{
			name: "malformed response falls back to safe default",
			raw:  "I think the user wants to buy something",
			want: SafeDefault(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseIntentResponse(tt.raw, logger); got != tt.want {
				t.Errorf("parseIntentResponse() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseLeadScore(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"85", 85},
		{"  42 ", 42},
		{"150", 100},
		{"-5", 0},
		{"not a number", 50},
	}

	for _, tt := range tests {
		if got := parseLeadScore(tt.raw); got != tt.want {
			t.Errorf("parseLeadScore(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestKeywordClassifier_Classify(t *testing.T) {
	c := NewKeywordClassifier()
	ctx := context.Background()

	tests := []struct {
		message    string
		wantIntent models.IntentType
	}{
		{"how much is the blue hoodie", models.IntentProductInquiry},
		{"I want to buy the tote", models.IntentPurchaseIntent},
		{"this thing arrived broken, I want a refund", models.IntentComplaint},
		{"awesome stream today", models.IntentPraise},
		{"when is the next stream?", models.IntentGeneralQuestion},
		{"hello everyone", models.IntentOther},
	}

	for _, tt := range tests {
		res := c.Classify(ctx, tt.message, testProducts)
		if res.Intent != tt.wantIntent {
			t.Errorf("Classify(%q).Intent = %s, want %s", tt.message, res.Intent, tt.wantIntent)
		}
	}

	if res := c.Classify(ctx, "this arrived broken", nil); !res.RequiresHumanReview {
		t.Error("complaints should be flagged for human review")
	}
}

func TestKeywordClassifier_ScoreLead(t *testing.T) {
	c := NewKeywordClassifier()
	ctx := context.Background()

	tests := []struct {
		name    string
		history []LeadSignal
		want    int
	}{
		{"no history", nil, 20},
		{"single inquiry", []LeadSignal{{Intent: models.IntentProductInquiry}}, 35},
		{"inquiry then purchase", []LeadSignal{
			{Intent: models.IntentProductInquiry},
			{Intent: models.IntentPurchaseIntent},
		}, 65},
		{"complaints floor at zero", []LeadSignal{
			{Intent: models.IntentComplaint},
			{Intent: models.IntentComplaint},
		}, 0},
		{"repeat buyer caps at 100", []LeadSignal{
			{Intent: models.IntentPurchaseIntent},
			{Intent: models.IntentPurchaseIntent},
			{Intent: models.IntentPurchaseIntent},
		}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.ScoreLead(ctx, tt.history); got != tt.want {
				t.Errorf("ScoreLead = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMatchProductByName(t *testing.T) {
	if p := matchProductByName("is the ocean blue pullover hoodie still in stock", testProducts); p == nil || p.ID != "prod-1" {
		t.Errorf("full name match failed: %+v", p)
	}
	if p := matchProductByName("how much for the hoodie", testProducts); p == nil || p.ID != "prod-1" {
		t.Errorf("token match failed: %+v", p)
	}
	if p := matchProductByName("what time is it", testProducts); p != nil {
		t.Errorf("expected no match, got %+v", p)
	}
}
