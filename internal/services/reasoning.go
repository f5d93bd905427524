package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"google.golang.org/api/option"

	"github.com/Lokesh-T-2506/AutoGrader/internal/config"
	"github.com/Lokesh-T-2506/AutoGrader/internal/domain"
)

// PromptSpec is a fully formed instruction payload. The adapter never
// builds prompts; callers attach the schema the response must satisfy.
type PromptSpec struct {
	Prompt string
	Schema *jsonschema.Schema
}

// Reasoner turns a prompt spec into schema-valid JSON. A (nil, nil) return
// means no credential is configured, which is a normal state and not a
// failure; callers pick their fallback path.
type Reasoner interface {
	Infer(ctx context.Context, spec PromptSpec) (json.RawMessage, error)
}

const reasoningRetryBackoff = 300 * time.Millisecond

type GeminiReasoner struct {
	apiKey  string
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

func NewGeminiReasoner(cfg config.Config, log zerolog.Logger) *GeminiReasoner {
	key := strings.TrimSpace(cfg.GeminiAPIKey)
	if key == "" {
		log.Info().Msg("GEMINI_API_KEY not configured, grading and feedback run in fallback mode")
	}
	return &GeminiReasoner{
		apiKey:  key,
		model:   strings.TrimSpace(cfg.GeminiModel),
		timeout: cfg.CallTimeout,
		log:     log,
	}
}

func (r *GeminiReasoner) Infer(ctx context.Context, spec PromptSpec) (json.RawMessage, error) {
	if r.apiKey == "" {
		return nil, nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(r.apiKey))
	if err != nil {
		return nil, &domain.ReasoningError{Reason: "create client", Transient: true, Err: err}
	}
	defer cl.Close()

	m := cl.GenerativeModel(r.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0.1),
		ResponseMIMEType: "application/json",
	}

	// One retry for transport failures. A malformed response is returned
	// immediately: retrying will not fix a parsing failure.
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		resp, err := m.GenerateContent(ctx, genai.Text(spec.Prompt))
		if err != nil {
			lastErr = err
			r.log.Warn().Err(err).Int("attempt", attempt).Msg("gemini call failed")
			if attempt < 2 {
				time.Sleep(time.Duration(attempt) * reasoningRetryBackoff)
			}
			continue
		}

		txt := firstText(resp)
		if txt == "" {
			return nil, &domain.ReasoningError{Reason: "empty response"}
		}
		txt = stripCodeFences(strings.TrimSpace(txt))

		var decoded interface{}
		if err := json.Unmarshal([]byte(txt), &decoded); err != nil {
			return nil, &domain.ReasoningError{Reason: "response is not valid JSON", Err: err}
		}
		if spec.Schema != nil {
			if err := spec.Schema.Validate(decoded); err != nil {
				return nil, &domain.ReasoningError{Reason: "response does not match schema", Err: err}
			}
		}
		return json.RawMessage(txt), nil
	}

	return nil, &domain.ReasoningError{Reason: "transport failure", Transient: true, Err: lastErr}
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func ptrFloat32(v float32) *float32 { return &v }
