package analysis

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/anstrom/portaudit/internal/errors"
	"github.com/anstrom/portaudit/internal/logging"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

var errEmptyResponse = stderrors.New("empty response from model")

// contentGenerator is the slice of the genai client the analyzer needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content,
		config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures a GeminiAnalyzer.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// GeminiAnalyzer implements Analyzer on the Gemini API.
type GeminiAnalyzer struct {
	models  contentGenerator
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

// NewGeminiAnalyzer creates an analyzer backed by the Gemini API.
func NewGeminiAnalyzer(ctx context.Context, cfg GeminiConfig) (*GeminiAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, errors.ErrCredentialsMissing("analysis.api_key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errors.WrapAnalysisError(errors.CodeConfiguration, "failed to create Gemini client", cfg.Model, err)
	}

	return newGeminiAnalyzer(client.Models, cfg), nil
}

func newGeminiAnalyzer(models contentGenerator, cfg GeminiConfig) *GeminiAnalyzer {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &GeminiAnalyzer{
		models:  models,
		model:   model,
		timeout: cfg.Timeout,
		logger:  logging.Default().WithComponent("analysis"),
	}
}

// Model implements Analyzer.
func (g *GeminiAnalyzer) Model() string {
	return g.model
}

// Analyze implements Analyzer.
func (g *GeminiAnalyzer) Analyze(ctx context.Context, ports []uint16) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	g.logger.InfoAnalysis("Requesting port analysis", "model", g.model, "ports", len(ports))

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(BuildPrompt(ports)), config)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return "", errors.WrapAnalysisError(errors.CodeServiceTimeout, "Analysis request timed out", g.model, err)
		}
		return "", errors.ErrAnalysisUnavailable(g.model, err)
	}

	var text string
	if resp != nil {
		text = strings.TrimSpace(resp.Text())
	}
	if text == "" {
		return "", errors.ErrAnalysisUnavailable(g.model, errEmptyResponse)
	}

	g.logger.Debug("Analysis received", "model", g.model, "duration", time.Since(start), "length", len(text))
	return text, nil
}
