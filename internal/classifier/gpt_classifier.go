package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/liveagent/internal/models"
	"go.uber.org/zap"
)

type intentResponse struct {
	Intent               string  `json:"intent"`
	Confidence           float64 `json:"confidence"`
	ExtractedProductName string  `json:"extracted_product_name"`
	LeadScore            int     `json:"lead_score"`
	RequiresHumanReview  bool    `json:"requires_human_review"`
}

// LeadSignal is one prior message considered when re-scoring a lead.
type LeadSignal struct {
	Text   string
	Intent models.IntentType
}

// GPTClassifier detects intent, matches products and generates replies via
// the OpenAI chat completion API. Every call is bounded by a timeout and
// every failure degrades to a safe default instead of surfacing an error.
type GPTClassifier struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	timeout     time.Duration
	logger      *zap.Logger
}

func NewGPTClassifier(apiKey, model string, maxTokens int, temperature float64, timeout time.Duration, logger *zap.Logger) *GPTClassifier {
	return &GPTClassifier{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		logger:      logger,
	}
}

func (c *GPTClassifier) complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   c.maxTokens,
			Temperature: float32(c.temperature),
		},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Classify detects the commercial intent of a chat message.
func (c *GPTClassifier) Classify(ctx context.Context, message string, products []models.Product) models.IntentResult {
	prompt := buildIntentPrompt(message, products)

	response, err := c.complete(ctx, prompt)
	if err != nil {
		c.logger.Error("failed to get intent response", zap.Error(err))
		return SafeDefault()
	}

	return parseIntentResponse(response, c.logger)
}

// GenerateResponse produces the reply text for a message that passed the
// decision policy. A generic fallback is returned on failure so a send can
// still happen once the gates have opened.
func (c *GPTClassifier) GenerateResponse(ctx context.Context, message string, intent models.IntentType, product *models.Product) string {
	prompt := buildResponsePrompt(message, intent, product)

	response, err := c.complete(ctx, prompt)
	if err != nil {
		c.logger.Error("failed to generate response", zap.Error(err))
		return FallbackResponse
	}

	return strings.Trim(response, `"'`)
}

// MatchProduct resolves which catalog product a message refers to, or nil.
func (c *GPTClassifier) MatchProduct(ctx context.Context, message string, products []models.Product) *models.Product {
	if len(products) == 0 {
		return nil
	}
	prompt := buildProductMatchPrompt(message, products)

	response, err := c.complete(ctx, prompt)
	if err != nil {
		c.logger.Error("failed to match product", zap.Error(err))
		return nil
	}

	id := strings.TrimSpace(response)
	if id == "NONE" {
		return nil
	}
	for i := range products {
		if products[i].ID == id {
			return &products[i]
		}
	}
	return nil
}

// ScoreLead re-scores a participant from their message history. Returns a
// medium score of 50 on failure.
func (c *GPTClassifier) ScoreLead(ctx context.Context, history []LeadSignal) int {
	prompt := buildLeadScoringPrompt(history)

	response, err := c.complete(ctx, prompt)
	if err != nil {
		c.logger.Error("failed to score lead", zap.Error(err))
		return 50
	}

	return parseLeadScore(response)
}

func buildIntentPrompt(message string, products []models.Product) string {
	var catalog strings.Builder
	for _, p := range products {
		fmt.Fprintf(&catalog, "- %s: %.2f %s\n", p.Name, p.Price.Amount(), p.Price.CurrencyCode)
	}

	return fmt.Sprintf(`You are an AI assistant helping a content creator sell products during a live stream.

Available products:
%s
User message: %q

Analyze this message and respond with a JSON object containing:
{
  "intent": "PRODUCT_INQUIRY" | "PURCHASE_INTENT" | "GENERAL_QUESTION" | "COMPLAINT" | "PRAISE" | "OTHER",
  "confidence": 0.0 to 1.0,
  "extracted_product_name": "product name if mentioned, otherwise empty",
  "lead_score": 0 to 100 (based on purchase likelihood),
  "requires_human_review": true if complex or sensitive, false otherwise
}

Intent definitions:
- PRODUCT_INQUIRY: asking about product details, price, features
- PURCHASE_INTENT: expressing desire to buy or asking how to purchase
- GENERAL_QUESTION: questions about the stream, creator, or unrelated topics
- COMPLAINT: expressing dissatisfaction or problems
- PRAISE: positive feedback or compliments
- OTHER: everything else

Respond ONLY with the JSON object, no other text.`, catalog.String(), message)
}

func buildResponsePrompt(message string, intent models.IntentType, product *models.Product) string {
	productInfo := "No specific product context"
	if product != nil {
		productInfo = fmt.Sprintf("Product: %s\nDescription: %s\nPrice: %.2f %s\nLink: %s",
			product.Name, product.Description, product.Price.Amount(),
			product.Price.CurrencyCode, product.PurchaseLink)
	}

	return fmt.Sprintf(`You are an AI assistant helping a content creator respond to viewers during a live stream.

User message: %q
Detected intent: %s
%s

Generate a friendly, concise response (max 280 characters) that:
1. Directly addresses the user's message
2. Provides helpful information about the product (if applicable)
3. Includes the product link if relevant
4. Is conversational and engaging
5. Encourages purchase without being pushy

Respond with ONLY the message text, no extra formatting or quotes.`, message, intent, productInfo)
}

func buildProductMatchPrompt(message string, products []models.Product) string {
	var catalog strings.Builder
	for _, p := range products {
		fmt.Fprintf(&catalog, "- ID: %s, Name: %s, Description: %s\n", p.ID, p.Name, p.Description)
	}

	return fmt.Sprintf(`You are an AI assistant matching user messages to products.

Available products:
%s
User message: %q

Which product is the user asking about? Consider direct product name
mentions, description keywords, and fuzzy matching (e.g. "blue hoodie"
matches "Ocean Blue Pullover Hoodie").

Respond with ONLY the product ID if there's a match, or "NONE" if no clear match.`, catalog.String(), message)
}

func buildLeadScoringPrompt(history []LeadSignal) string {
	var lines strings.Builder
	for i, m := range history {
		fmt.Fprintf(&lines, "%d. [%s] %s\n", i+1, m.Intent, m.Text)
	}

	return fmt.Sprintf(`You are an AI assistant scoring lead quality for a content creator selling products.

Message history:
%s
Analyze this interaction and provide a lead score from 0-100 based on:
- Purchase intent signals (40 points)
- Engagement level (30 points)
- Specificity of questions (20 points)
- Positive sentiment (10 points)

Respond with ONLY a number from 0 to 100, no other text.`, lines.String())
}

func parseIntentResponse(response string, logger *zap.Logger) models.IntentResult {
	var parsed intentResponse
	if err := json.Unmarshal([]byte(stripCodeFence(response)), &parsed); err != nil {
		logger.Error("failed to parse intent response",
			zap.Error(err),
			zap.String("response", response))
		return SafeDefault()
	}

	return models.IntentResult{
		Intent:               normalizeIntent(parsed.Intent),
		Confidence:           clampFloat(parsed.Confidence, 0, 1),
		ExtractedProductName: parsed.ExtractedProductName,
		LeadScore:            clampInt(parsed.LeadScore, 0, 100),
		RequiresHumanReview:  parsed.RequiresHumanReview,
	}
}

func parseLeadScore(response string) int {
	score, err := strconv.Atoi(strings.TrimSpace(response))
	if err != nil {
		return 50
	}
	return clampInt(score, 0, 100)
}

func normalizeIntent(raw string) models.IntentType {
	switch models.IntentType(strings.ToUpper(strings.TrimSpace(raw))) {
	case models.IntentProductInquiry:
		return models.IntentProductInquiry
	case models.IntentPurchaseIntent:
		return models.IntentPurchaseIntent
	case models.IntentGeneralQuestion:
		return models.IntentGeneralQuestion
	case models.IntentComplaint:
		return models.IntentComplaint
	case models.IntentPraise:
		return models.IntentPraise
	default:
		return models.IntentOther
	}
}

// stripCodeFence unwraps a ```json fenced block if the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
