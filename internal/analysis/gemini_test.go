package analysis

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/anstrom/portaudit/internal/errors"
)

type fakeModels struct {
	text   string
	err    error
	block  bool
	model  string
	prompt string
	system string
	called int
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content,
	config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.called++
	f.model = model
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	if config != nil && config.SystemInstruction != nil && len(config.SystemInstruction.Parts) > 0 {
		f.system = config.SystemInstruction.Parts[0].Text
	}

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(f.text, genai.RoleModel)},
		},
	}, nil
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt([]uint16{22, 80, 443})

	assert.Contains(t, prompt, "[22, 80, 443]")
	for _, want := range []string{
		"Senior Cybersecurity Analyst",
		"What service usually runs on it",
		"The potential security risks",
		"How to secure it",
		"concise and professional",
	} {
		assert.Contains(t, prompt, want)
	}
}

func TestGeminiAnalyzer_Analyze(t *testing.T) {
	t.Run("returns model text", func(t *testing.T) {
		models := &fakeModels{text: "  ## Port 22\nSSH, restrict access.  "}
		analyzer := newGeminiAnalyzer(models, GeminiConfig{Model: "gemini-test"})

		text, err := analyzer.Analyze(context.Background(), []uint16{22})

		require.NoError(t, err)
		assert.Equal(t, "## Port 22\nSSH, restrict access.", text)
		assert.Equal(t, "gemini-test", models.model)
		assert.Contains(t, models.prompt, "[22]")
		assert.Equal(t, systemInstruction, models.system)
	})

	t.Run("service error is unavailable", func(t *testing.T) {
		models := &fakeModels{err: stderrors.New("503 Service Unavailable")}
		analyzer := newGeminiAnalyzer(models, GeminiConfig{})

		_, err := analyzer.Analyze(context.Background(), []uint16{80})

		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeServiceUnavailable))
		assert.True(t, errors.IsRetryable(err))
	})

	t.Run("empty answer is unavailable", func(t *testing.T) {
		analyzer := newGeminiAnalyzer(&fakeModels{text: "   "}, GeminiConfig{})

		_, err := analyzer.Analyze(context.Background(), []uint16{80})

		assert.True(t, errors.IsCode(err, errors.CodeServiceUnavailable))
		assert.ErrorIs(t, err, errEmptyResponse)
	})

	t.Run("timeout bounds the call", func(t *testing.T) {
		analyzer := newGeminiAnalyzer(&fakeModels{block: true}, GeminiConfig{Timeout: 20 * time.Millisecond})

		start := time.Now()
		_, err := analyzer.Analyze(context.Background(), []uint16{80})

		assert.True(t, errors.IsCode(err, errors.CodeServiceTimeout))
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestGeminiAnalyzer_DefaultModel(t *testing.T) {
	analyzer := newGeminiAnalyzer(&fakeModels{}, GeminiConfig{})
	assert.Equal(t, DefaultModel, analyzer.Model())
}

func TestNewGeminiAnalyzer_RequiresKey(t *testing.T) {
	_, err := NewGeminiAnalyzer(context.Background(), GeminiConfig{Model: DefaultModel})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCredentialsMissing))
}
