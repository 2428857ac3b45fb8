package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/wolfman30/medicare-plus/internal/observability/metrics"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

const (
	DefaultGeminiModel         = "gemini-2.5-flash"
	DefaultGeminiFallbackModel = "gemini-1.5-flash"
)

// SystemInstruction frames every answer.
const SystemInstruction = `You are a helpful AI assistant for a hospital management system called "MediCare+".
Your role is to assist patients in finding doctors, checking availability, and understanding hospital services.

Use the provided doctor data AND the USER SPECIFIC CONTEXT to answer user queries.

If a user asks how to book an appointment, guide them: "To book an appointment, please navigate to the 'Doctors' page, select your preferred doctor, and click on their profile to view available slots."

Specific guidance for user data:
- If asked about "my appointments", check the UPCOMING APPOINTMENTS section.
- If asked about medications, prescriptions or diagnosis, check the RECENT MEDICAL REPORTS section.
- If the user asks "what is my prescription?" and has multiple reports, list the medications from the most recent one.

Rules:
1. Answer strictly based on the provided context.
2. Be polite, professional, and concise.
3. Do NOT make up information.
4. Do NOT use markdown formatting. Keep the text plain.
5. If listing doctors, list them clearly with their specialization.`

// Answerer turns a question plus its grounding context into a reply.
type Answerer interface {
	Name() string
	Answer(ctx context.Context, query, contextText string) (string, error)
}

func composePrompt(query, contextText string) string {
	var b strings.Builder
	b.WriteString(contextText)
	if !strings.HasSuffix(contextText, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\nUser Question: ")
	b.WriteString(query)
	return b.String()
}

type geminiGenerateFunc func(ctx context.Context, modelID, system, prompt string) (string, error)

// GeminiAnswerer calls Gemini, retrying once on the fallback model id.
type GeminiAnswerer struct {
	generate      geminiGenerateFunc
	closeFn       func() error
	modelID       string
	fallbackModel string
}

// NewGeminiAnswerer creates a Gemini client for apiKey.
func NewGeminiAnswerer(ctx context.Context, apiKey, modelID, fallbackModel string) (*GeminiAnswerer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("assistant: gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("assistant: failed to create gemini client: %w", err)
	}
	return newGeminiAnswerer(geminiGenerator(client), client.Close, modelID, fallbackModel), nil
}

func newGeminiAnswerer(generate geminiGenerateFunc, closeFn func() error, modelID, fallbackModel string) *GeminiAnswerer {
	if strings.TrimSpace(modelID) == "" {
		modelID = DefaultGeminiModel
	}
	return &GeminiAnswerer{generate: generate, closeFn: closeFn, modelID: modelID, fallbackModel: fallbackModel}
}

func geminiGenerator(client *genai.Client) geminiGenerateFunc {
	return func(ctx context.Context, modelID, system, prompt string) (string, error) {
		model := client.GenerativeModel(modelID)
		if strings.TrimSpace(system) != "" {
			model.SystemInstruction = genai.NewUserContent(genai.Text(system))
		}
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", err
		}
		if len(resp.Candidates) == 0 {
			return "", errors.New("gemini returned no candidates")
		}
		candidate := resp.Candidates[0]
		if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
			return "", errors.New("gemini returned empty content")
		}
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		return strings.TrimSpace(text.String()), nil
	}
}

func (g *GeminiAnswerer) Name() string { return "gemini" }

func (g *GeminiAnswerer) Answer(ctx context.Context, query, contextText string) (string, error) {
	prompt := composePrompt(query, contextText)
	text, err := g.generate(ctx, g.modelID, SystemInstruction, prompt)
	if err == nil && text != "" {
		return text, nil
	}
	if err == nil {
		err = errors.New("empty answer")
	}
	if g.fallbackModel == "" || g.fallbackModel == g.modelID || ctx.Err() != nil {
		return "", fmt.Errorf("assistant: gemini %s: %w", g.modelID, err)
	}
	text, fbErr := g.generate(ctx, g.fallbackModel, SystemInstruction, prompt)
	if fbErr != nil {
		return "", fmt.Errorf("assistant: gemini %s: %w (fallback %s: %v)", g.modelID, err, g.fallbackModel, fbErr)
	}
	if text == "" {
		return "", fmt.Errorf("assistant: gemini %s returned an empty answer", g.fallbackModel)
	}
	return text, nil
}

// Close releases the Gemini client.
func (g *GeminiAnswerer) Close() error {
	if g.closeFn != nil {
		return g.closeFn()
	}
	return nil
}

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockAnswerer answers through the Bedrock Converse API.
type BedrockAnswerer struct {
	api       bedrockConverseAPI
	modelID   string
	maxTokens int32
}

func NewBedrockAnswerer(api bedrockConverseAPI, modelID string) *BedrockAnswerer {
	if api == nil {
		panic("assistant: bedrock converse client cannot be nil")
	}
	return &BedrockAnswerer{api: api, modelID: modelID, maxTokens: 1024}
}

func (b *BedrockAnswerer) Name() string { return "bedrock" }

func (b *BedrockAnswerer) Answer(ctx context.Context, query, contextText string) (string, error) {
	if strings.TrimSpace(b.modelID) == "" {
		return "", errors.New("assistant: bedrock model id is required")
	}
	out, err := b.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(b.modelID),
		System:  []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: SystemInstruction}},
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: composePrompt(query, contextText)}},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(b.maxTokens)},
	})
	if err != nil {
		return "", fmt.Errorf("assistant: bedrock converse: %w", err)
	}
	return bedrockOutputText(out)
}

func bedrockOutputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("assistant: bedrock response is nil")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("assistant: bedrock response did not include a message")
	}
	var text strings.Builder
	for _, block := range msg.Value.Content {
		if t, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text.WriteString(t.Value)
		}
	}
	answer := strings.TrimSpace(text.String())
	if answer == "" {
		return "", errors.New("assistant: bedrock response contained no text")
	}
	return answer, nil
}

// FallbackAnswerer tries primary, then fallback when primary fails.
type FallbackAnswerer struct {
	primary  Answerer
	fallback Answerer
	logger   *logging.Logger
	metrics  *metrics.AssistantMetrics
}

// NewFallbackAnswerer chains two answerers. fallback may be nil.
func NewFallbackAnswerer(primary, fallback Answerer, logger *logging.Logger, m *metrics.AssistantMetrics) *FallbackAnswerer {
	if primary == nil {
		panic("assistant: primary answerer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackAnswerer{primary: primary, fallback: fallback, logger: logger.Component("assistant"), metrics: m}
}

func (f *FallbackAnswerer) Name() string {
	if f.fallback == nil {
		return f.primary.Name()
	}
	return f.primary.Name() + "+" + f.fallback.Name()
}

func (f *FallbackAnswerer) Answer(ctx context.Context, query, contextText string) (string, error) {
	answer, err := f.observe(ctx, f.primary, query, contextText)
	if err == nil {
		return answer, nil
	}
	f.logger.Warn("primary answerer failed, attempting fallback",
		"provider", f.primary.Name(),
		"error", err,
		"fallback_available", f.fallback != nil,
	)
	if f.fallback == nil {
		return "", err
	}
	answer, fbErr := f.observe(ctx, f.fallback, query, contextText)
	if fbErr != nil {
		f.logger.Error("fallback answerer also failed", "primary_error", err, "fallback_error", fbErr)
		return "", fbErr
	}
	return answer, nil
}

func (f *FallbackAnswerer) observe(ctx context.Context, a Answerer, query, contextText string) (string, error) {
	start := time.Now()
	answer, err := a.Answer(ctx, query, contextText)
	status := "ok"
	if err != nil {
		status = "error"
	}
	f.metrics.ObserveAnswer(a.Name(), status, time.Since(start).Seconds())
	return answer, err
}
