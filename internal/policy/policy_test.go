package policy

import (
	"testing"

	"github.com/xaenox/liveagent/internal/models"
)

func TestShouldAutoRespond(t *testing.T) {
	tests := []struct {
		name       string
		intent     models.IntentType
		confidence float64
		want       bool
	}{
		{"high confidence purchase intent", models.IntentPurchaseIntent, 0.9, true},
		{"purchase intent at threshold", models.IntentPurchaseIntent, 0.7, true},
		{"purchase intent below threshold", models.IntentPurchaseIntent, 0.69, false},
		{"high confidence product inquiry", models.IntentProductInquiry, 0.8, true},
		{"low confidence product inquiry", models.IntentProductInquiry, 0.4, false},
		{"complaint is never auto answered", models.IntentComplaint, 0.95, false},
		{"high confidence general question", models.IntentGeneralQuestion, 0.99, false},
		{"high confidence praise", models.IntentPraise, 0.99, false},
		{"other intent", models.IntentOther, 0.9, false},
		{"zero confidence", models.IntentOther, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldAutoRespond(tt.intent, tt.confidence); got != tt.want {
				t.Errorf("ShouldAutoRespond(%s, %v) = %v, want %v",
					tt.intent, tt.confidence, got, tt.want)
			}
		})
	}
}
