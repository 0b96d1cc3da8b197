package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultModelName is the default Gemini model used for narratives.
const DefaultModelName = "gemini-2.5-flash"

// SystemInstruction constrains the model to the Insights JSON shape.
const SystemInstruction = "You are an elite small-business finance copilot. " +
	"Return ONLY valid JSON matching: " +
	"type InsightJSON = { sections: Array<{ title: string; bullets: string[] }> }; " +
	"No prose outside JSON. Short, punchy bullets. Use only provided numbers. " +
	"Preferred section titles: Bottom line, Trend & Volatility, Week-over-Week, Anomalies, Category Mix, Suggestions. " +
	"Omit empty sections."

// ErrMissingSections is returned when a reply parses but has no sections array.
var ErrMissingSections = errors.New("model reply is missing sections")

// contentGenerator is the part of *genai.Models the generator needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig holds the model settings.
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	// Timeout bounds one generation; zero means only the caller's context applies.
	Timeout time.Duration
}

func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Model:           DefaultModelName,
		Temperature:     0.25,
		MaxOutputTokens: 1000,
		Timeout:         45 * time.Second,
	}
}

// GeminiGenerator is the Generator backed by the Gemini API.
type GeminiGenerator struct {
	models contentGenerator
	cfg    GeminiConfig
}

// NewGeminiGenerator creates a Gemini client. An empty APIKey lets the SDK
// read GOOGLE_API_KEY or GEMINI_API_KEY from the environment.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiGenerator: create genai client: %w", err)
	}
	return newGeminiGenerator(client.Models, cfg), nil
}

func newGeminiGenerator(models contentGenerator, cfg GeminiConfig) *GeminiGenerator {
	d := DefaultGeminiConfig()
	if cfg.Model == "" {
		cfg.Model = d.Model
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = d.Temperature
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = d.MaxOutputTokens
	}
	return &GeminiGenerator{models: models, cfg: cfg}
}

// Generate sends the payload as JSON and returns the validated reply.
func (g *GeminiGenerator) Generate(ctx context.Context, payload *Payload) (*Generation, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("Generate: marshal payload: %w", err)
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	contents := []*genai.Content{
		{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: string(body)}},
		},
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: SystemInstruction}},
		},
		Temperature:      genai.Ptr(g.cfg.Temperature),
		MaxOutputTokens:  g.cfg.MaxOutputTokens,
		ResponseMIMEType: "application/json",
	}

	resp, err := g.models.GenerateContent(ctx, g.cfg.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("Generate: generate content: %w", err)
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, fmt.Errorf("Generate: empty response from model")
	}

	ins, err := ParseInsights(rawText)
	if err != nil {
		return nil, fmt.Errorf("Generate: %w", err)
	}

	return &Generation{
		Insights:     ins,
		Raw:          rawText,
		Model:        g.cfg.Model,
		ModelVersion: resp.ModelVersion,
	}, nil
}

// ParseInsights decodes a model reply, tolerating Markdown fences and text
// around the JSON object. Sections without bullets are dropped.
func ParseInsights(raw string) (*Insights, error) {
	var parsed struct {
		Sections []Section `json:"sections"`
	}
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON from model: %w", err)
	}
	if parsed.Sections == nil {
		return nil, ErrMissingSections
	}

	out := &Insights{Sections: make([]Section, 0, len(parsed.Sections))}
	for _, sec := range parsed.Sections {
		bullets := make([]string, 0, len(sec.Bullets))
		for _, b := range sec.Bullets {
			if b = strings.TrimSpace(b); b != "" {
				bullets = append(bullets, b)
			}
		}
		if len(bullets) == 0 {
			continue
		}
		out.Sections = append(out.Sections, Section{Title: strings.TrimSpace(sec.Title), Bullets: bullets})
	}
	return out, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost object if there is still junk around it.
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
