// Package policy decides whether a classified message earns an automatic
// reply. It is pure and holds no state.
package policy

import "github.com/xaenox/liveagent/internal/models"

// ShouldAutoRespond maps (intent, confidence) to an auto-respond decision.
// High-confidence product inquiries and purchase intent qualify; complaints
// always go to a human; everything else defaults to no response.
func ShouldAutoRespond(intent models.IntentType, confidence float64) bool {
	if (intent == models.IntentProductInquiry || intent == models.IntentPurchaseIntent) &&
		confidence >= 0.7 {
		return true
	}

	if intent == models.IntentComplaint || confidence < 0.5 {
		return false
	}

	return false
}
