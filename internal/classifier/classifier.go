package classifier

import (
	"context"
	"strings"

	"github.com/xaenox/liveagent/internal/models"
)

// Classifier is the contract to the intent-detection collaborator. All
// methods absorb failures internally: Classify falls back to SafeDefault and
// GenerateResponse to a generic line, so the message pipeline never stalls
// on classifier unavailability.
type Classifier interface {
	Classify(ctx context.Context, message string, products []models.Product) models.IntentResult
	GenerateResponse(ctx context.Context, message string, intent models.IntentType, product *models.Product) string
	MatchProduct(ctx context.Context, message string, products []models.Product) *models.Product
	ScoreLead(ctx context.Context, history []LeadSignal) int
}

// SafeDefault is the result substituted when classification fails for any
// reason. It routes the message to human review and triggers no response.
func SafeDefault() models.IntentResult {
	return models.IntentResult{
		Intent:              models.IntentOther,
		Confidence:          0,
		LeadScore:           0,
		RequiresHumanReview: true,
	}
}

// FallbackResponse is sent when response generation fails after the decision
// to respond was already made.
const FallbackResponse = "Thanks for your message! I'll make sure the creator sees this."

// KeywordClassifier is a heuristic classifier used when no API key is
// configured. Confidence values are deliberately modest so only clear
// purchase signals clear the auto-respond threshold.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

var intentKeywords = []struct {
	intent     models.IntentType
	confidence float64
	words      []string
}{
	{models.IntentPurchaseIntent, 0.75, []string{"buy", "purchase", "order", "checkout", "take my money", "where do i get"}},
	{models.IntentProductInquiry, 0.75, []string{"how much", "price", "cost", "what size", "in stock", "available"}},
	{models.IntentComplaint, 0.7, []string{"refund", "broken", "not working", "terrible", "scam", "disappointed"}},
	{models.IntentPraise, 0.6, []string{"love this", "awesome", "amazing", "great stream"}},
}

func (c *KeywordClassifier) Classify(_ context.Context, message string, products []models.Product) models.IntentResult {
	lower := strings.ToLower(message)

	for _, group := range intentKeywords {
		for _, word := range group.words {
			if !strings.Contains(lower, word) {
				continue
			}
			res := models.IntentResult{
				Intent:     group.intent,
				Confidence: group.confidence,
			}
			switch group.intent {
			case models.IntentPurchaseIntent:
				res.LeadScore = 80
			case models.IntentProductInquiry:
				res.LeadScore = 60
			case models.IntentComplaint:
				res.RequiresHumanReview = true
			}
			if p := matchProductByName(lower, products); p != nil {
				res.ExtractedProductName = p.Name
			}
			return res
		}
	}

	if strings.Contains(message, "?") {
		return models.IntentResult{Intent: models.IntentGeneralQuestion, Confidence: 0.5, LeadScore: 20}
	}
	return models.IntentResult{Intent: models.IntentOther, Confidence: 0.5}
}

func (c *KeywordClassifier) GenerateResponse(_ context.Context, _ string, _ models.IntentType, product *models.Product) string {
	if product != nil {
		return "Great question! " + product.Name + " is available here: " + product.PurchaseLink
	}
	return FallbackResponse
}

func (c *KeywordClassifier) MatchProduct(_ context.Context, message string, products []models.Product) *models.Product {
	return matchProductByName(strings.ToLower(message), products)
}

// ScoreLead folds the user's session history into a 0-100 score. Repeated
// purchase signals raise it, complaints lower it.
func (c *KeywordClassifier) ScoreLead(_ context.Context, history []LeadSignal) int {
	score := 20
	for _, s := range history {
		switch s.Intent {
		case models.IntentPurchaseIntent:
			score += 30
		case models.IntentProductInquiry:
			score += 15
		case models.IntentComplaint:
			score -= 20
		}
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// matchProductByName matches when every word of the product name shorter
// than the full name appears in the message, or the full name does.
func matchProductByName(lowerMessage string, products []models.Product) *models.Product {
	for i := range products {
		name := strings.ToLower(products[i].Name)
		if strings.Contains(lowerMessage, name) {
			return &products[i]
		}
	}
	// Loose pass: any single name token of 4+ chars.
	for i := range products {
		for _, token := range strings.Fields(strings.ToLower(products[i].Name)) {
			if len(token) >= 4 && strings.Contains(lowerMessage, token) {
				return &products[i]
			}
		}
	}
	return nil
}
