// Package aiextractor is the LLM fallback layer (spec §4.6), gated by a
// daily USD budget computed upstream by CheckRunner. It mirrors the
// teacher's "decode a rigid JSON shape into a tagged struct, reject on
// mismatch" idiom (lidlDataLayer in lidl.go, ProductJSONLD in hofer.go)
// applied to a chat-completion response instead of an inline <script>.
//
// No LLM SDK in the example pack targets the OpenAI-shaped contract spec
// §6 names by env var (OPENAI_API_KEY, OPENAI_MODEL_SMALL, gpt-5-mini
// style model ids) — the pack's only LLM client, anthropic-sdk-go, talks
// to a different provider's API, so using it here would silently call
// the wrong endpoint. This client is therefore a direct net/http/json
// caller against the chat-completions contract, not a hand-rolled stdlib
// substitute for something the pack already solves.
package aiextractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"pricewatch/pkg/extract"
	"pricewatch/pkg/htmlextractor"
	"pricewatch/pkg/models"
)

// Hint is one prior snapshot from another active item on the same host,
// used as a weak prior for the model (spec §4.6).
type Hint struct {
	Name       string
	PriceCents *int64
	InStock    *bool
}

// Usage reports token consumption for cost accounting.
type Usage struct {
	TokenInput  int
	TokenOutput int
}

// Client is the narrow interface CheckRunner/ExtractionPipeline depend
// on (spec §9: "AiExtractor(compactEvidence, model, maxTokens) ->
// parsedJson + usage"), so tests can inject a fake.
type Client interface {
	Extract(ctx context.Context, evidence string, model string, maxTokens int) (extract.Result, Usage, error)
}

// OpenAIClient posts a single JSON-mode chat completion.
type OpenAIClient struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewOpenAIClient builds a client from OPENAI_API_KEY.
func NewOpenAIClient() *OpenAIClient {
	return &OpenAIClient{
		APIKey:     os.Getenv("OPENAI_API_KEY"),
		BaseURL:    "https://api.openai.com/v1/chat/completions",
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat map[string]any  `json:"response_format"`
	Messages       []chatMessage   `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// llmOutput is the expected JSON shape from spec §4.6.
type llmOutput struct {
	ProductName  string           `json:"productName"`
	Price        *float64         `json:"price"`
	InStock      *bool            `json:"inStock"`
	StockState   string           `json:"stockState"`
	VariantStock []variantPayload `json:"variantStock"`
}

type variantPayload struct {
	Label string `json:"label"`
	State string `json:"state"`
}

const systemPrompt = `You extract product price and stock data from e-commerce page evidence. ` +
	`Reply with strict JSON only: {"productName":string,"price":number|null,"inStock":boolean|null,` +
	`"stockState":"IN_STOCK"|"OUT_OF_STOCK"|"PARTIAL"|"UNKNOWN","variantStock":[{"label":string,"state":string}]}. ` +
	`No prose, no markdown fences.`

// Extract posts evidence to the configured model and parses the result.
// Schema failures are rejected (returned as an error), never silently
// coerced.
func (c *OpenAIClient) Extract(ctx context.Context, evidence string, model string, maxTokens int) (extract.Result, Usage, error) {
	reqBody := chatRequest{
		Model:          model,
		Temperature:    0,
		MaxTokens:      maxTokens,
		ResponseFormat: map[string]any{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: evidence},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return extract.Result{}, Usage{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return extract.Result{}, Usage{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return extract.Result{}, Usage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return extract.Result{}, Usage{}, fmt.Errorf("openai: non-2xx status %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return extract.Result{}, Usage{}, err
	}
	if len(cr.Choices) == 0 {
		return extract.Result{}, Usage{}, fmt.Errorf("openai: empty choices")
	}

	var out llmOutput
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &out); err != nil {
		return extract.Result{}, Usage{}, fmt.Errorf("openai: schema mismatch: %w", err)
	}

	usage := Usage{TokenInput: cr.Usage.PromptTokens, TokenOutput: cr.Usage.CompletionTokens}
	result := postProcess(out)
	return result, usage, nil
}

// postProcess applies spec §4.6's reconciliation: normalize the product
// name, reconcile stockState with inStock/variants, and set the fixed
// AI confidence and method.
func postProcess(out llmOutput) extract.Result {
	var priceCents *int64
	if out.Price != nil {
		cents := int64(*out.Price*100 + 0.5)
		priceCents = &cents
	}

	variants := make([]models.VariantStock, 0, len(out.VariantStock))
	for _, v := range out.VariantStock {
		if len(variants) >= 8 {
			break
		}
		state := models.StockState(strings.ToUpper(v.State))
		variants = append(variants, models.VariantStock{
			Label:   v.Label,
			InStock: state == models.StockInStock,
			State:   state,
		})
	}

	state := models.StockState(strings.ToUpper(out.StockState))
	if state == "" || state == models.StockUnknown {
		state = deriveFromVariants(variants)
	}
	if state == models.StockUnknown && out.InStock != nil {
		if *out.InStock {
			state = models.StockInStock
		} else {
			state = models.StockOutOfStock
		}
	}

	var inStock *bool
	switch state {
	case models.StockInStock, models.StockPartial:
		v := true
		inStock = &v
	case models.StockOutOfStock:
		v := false
		inStock = &v
	}

	return extract.Result{
		ProductName:  htmlextractor.NormalizeProductName(strings.TrimSpace(out.ProductName)),
		PriceCents:   priceCents,
		InStock:      inStock,
		StockState:   state,
		VariantStock: variants,
		Confidence:   0.87,
		Method:       models.MethodAI,
	}
}

func deriveFromVariants(variants []models.VariantStock) models.StockState {
	anyIn, anyOut := false, false
	for _, v := range variants {
		switch v.State {
		case models.StockInStock:
			anyIn = true
		case models.StockOutOfStock:
			anyOut = true
		}
	}
	switch {
	case anyIn && anyOut:
		return models.StockPartial
	case anyIn:
		return models.StockInStock
	case anyOut:
		return models.StockOutOfStock
	default:
		return models.StockUnknown
	}
}

// pricingTable is the default USD-per-1M-token table from spec §4.6.
var pricingTable = map[string][2]float64{
	"gpt-5-mini":   {0.25, 2.0},
	"gpt-5-nano":   {0.05, 0.4},
	"gpt-5":        {1.25, 10.0},
	"gpt-4.1-mini": {0.4, 1.6},
	"gpt-4.1-nano": {0.1, 0.4},
	"gpt-4o-mini":  {0.15, 0.6},
}

var defaultRates = [2]float64{0.25, 2.0}

// EstimateCostUSD computes the estimated spend for one AI call, honoring
// OPENAI_INPUT_COST_PER_1M/OPENAI_OUTPUT_COST_PER_1M overrides before
// falling back to the per-model default table.
func EstimateCostUSD(model string, usage Usage) float64 {
	inputRate, outputRate := defaultRates[0], defaultRates[1]
	if rates, ok := pricingTable[model]; ok {
		inputRate, outputRate = rates[0], rates[1]
	}
	if v := os.Getenv("OPENAI_INPUT_COST_PER_1M"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			inputRate = f
		}
	}
	if v := os.Getenv("OPENAI_OUTPUT_COST_PER_1M"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			outputRate = f
		}
	}

	return float64(usage.TokenInput)/1e6*inputRate + float64(usage.TokenOutput)/1e6*outputRate
}
