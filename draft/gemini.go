package draft

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is used when neither the config nor GEMINI_MODEL names one.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures a GeminiGenerator.
type GeminiConfig struct {
	// APIKey defaults to $GEMINI_API_KEY.
	APIKey string `json:"-" yaml:"api_key"`

	// Model defaults to $GEMINI_MODEL, then DefaultGeminiModel.
	Model string `json:"model" yaml:"model"`

	// Temperature (default: 0.2).
	Temperature float32 `json:"temperature" yaml:"temperature"`
}

func (c *GeminiConfig) defaults() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Model == "" {
		c.Model = os.Getenv("GEMINI_MODEL")
	}
	if c.Model == "" {
		c.Model = DefaultGeminiModel
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.2
	}
}

// GeminiGenerator calls the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGeminiGenerator creates a client. It fails without an API key.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	cfg.defaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("draft: GEMINI_API_KEY not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("draft: gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, cfg: cfg}, nil
}

// Generate implements Generator. A model handle is built per call so system
// instructions never leak between concurrent requests.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	model := g.client.GenerativeModel(g.cfg.Model)
	model.SetTemperature(g.cfg.Temperature)
	if req.SystemInstructions != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemInstructions)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.UserPrompt))
	if err != nil {
		return Response{}, fmt.Errorf("gemini: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Response{}, fmt.Errorf("gemini: empty response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return Response{Markup: sb.String()}, nil
}

// Close releases the client.
func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}
