package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/avickers/a11ypipe/internal/config"
	"github.com/avickers/a11ypipe/internal/models"
)

// Usage is the token cost of one verification call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total is the combined token count charged against the scan's budget.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Verifier wraps a langchaingo LLM for WCAG criterion verification.
type Verifier struct {
	llm       llms.Model
	modelName string
}

// NewVerifier creates a verifier for the configured provider.
func NewVerifier(ctx context.Context, cfg config.Config) (*Verifier, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, loadErr := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if loadErr != nil {
			return nil, fmt.Errorf("load aws config: %w", loadErr)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		model, err = bedrock.New(
			bedrock.WithModel(cfg.LLMModel),
			bedrock.WithClient(client),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Verifier{llm: model, modelName: cfg.LLMModel}, nil
}

// Model returns the LLM model name.
func (v *Verifier) Model() string {
	return v.modelName
}

const verifySystemPrompt = `You are a WCAG conformance auditor. For each listed success criterion, judge whether the described page passes, fails, or whether the criterion is inapplicable to it.

Output format (one line per criterion, nothing else):
VERDICT|criterion_id|pass/fail/inapplicable|short note

Guidelines:
- Judge ONLY from the provided page summary; if it gives no evidence either way, use inapplicable.
- The note is one short sentence naming the evidence.
- Output every requested criterion exactly once.`

// VerifyBatch asks the model for a verdict on each criterion of one
// sub-batch. Criteria the model fails to answer come back as unknown rather
// than being dropped, so result counts stay aligned with the batch.
func (v *Verifier) VerifyBatch(
	ctx context.Context,
	subjectURL string,
	level models.ConformanceLevel,
	criteria []Criterion,
) ([]models.CriterionResult, Usage, error) {
	var list strings.Builder
	for _, c := range criteria {
		fmt.Fprintf(&list, "- %s %s (Level %s)\n", c.ID, c.Name, c.Level)
	}

	userPrompt := fmt.Sprintf(`Page: %s
Conformance target: WCAG %s

Criteria to judge:
%s
Verdicts:`, subjectURL, level, list.String())

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, verifySystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := v.llm.GenerateContent(ctx, messages)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("verify batch: %w", wrapFatalError(err))
	}
	if len(response.Choices) == 0 {
		return nil, Usage{}, fmt.Errorf("verify batch: no response choices")
	}

	choice := response.Choices[0]
	usage := usageFromGenerationInfo(choice.GenerationInfo)
	results := parseVerdicts(choice.Content, criteria)
	return results, usage, nil
}

// parseVerdicts reads the model's pipe-delimited verdict lines. Lines that
// do not parse, or criteria the model skipped, yield unknown verdicts.
func parseVerdicts(content string, criteria []Criterion) []models.CriterionResult {
	byID := make(map[string]models.CriterionResult, len(criteria))

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "VERDICT|") {
			continue
		}
		parts := strings.SplitN(line, "|", 4)
		if len(parts) < 3 {
			continue
		}

		id := strings.TrimSpace(parts[1])
		verdict := parseVerdict(parts[2])
		note := ""
		if len(parts) == 4 {
			note = strings.TrimSpace(parts[3])
		}
		byID[id] = models.CriterionResult{Criterion: id, Verdict: verdict, Note: note}
	}

	results := make([]models.CriterionResult, 0, len(criteria))
	for _, c := range criteria {
		if r, ok := byID[c.ID]; ok {
			results = append(results, r)
			continue
		}
		results = append(results, models.CriterionResult{Criterion: c.ID, Verdict: models.VerdictUnknown})
	}
	return results
}

func parseVerdict(s string) models.Verdict {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass":
		return models.VerdictPass
	case "fail":
		return models.VerdictFail
	case "inapplicable", "n/a", "na":
		return models.VerdictInapplicable
	default:
		return models.VerdictUnknown
	}
}

// usageFromGenerationInfo extracts token counts from the provider-specific
// generation metadata. OpenAI-compatible providers report
// PromptTokens/CompletionTokens, Anthropic and Bedrock report
// InputTokens/OutputTokens.
func usageFromGenerationInfo(info map[string]any) Usage {
	return Usage{
		InputTokens:  intFromInfo(info, "PromptTokens", "InputTokens", "input_tokens"),
		OutputTokens: intFromInfo(info, "CompletionTokens", "OutputTokens", "output_tokens"),
	}
}

func intFromInfo(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

// ErrFatalAPI marks provider errors that retrying cannot fix, billing and
// credential problems foremost. A scan hitting one should stop burning
// batches until an operator intervenes.
var ErrFatalAPI = errors.New("fatal API error")

var fatalAPIMarkers = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication failed",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalAPIMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if err == nil {
		return nil
	}
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %v", ErrFatalAPI, err)
	}
	return err
}
