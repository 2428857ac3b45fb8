package assistant

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medicare-plus/internal/observability/metrics"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

func TestGeminiAnswerer_FallsBackToSecondModel(t *testing.T) {
	var models []string
	g := newGeminiAnswerer(func(ctx context.Context, modelID, system, prompt string) (string, error) {
		models = append(models, modelID)
		assert.Equal(t, SystemInstruction, system)
		assert.Contains(t, prompt, "User Question: who is on call?")
		if modelID == DefaultGeminiModel {
			return "", errors.New("404 model not found")
		}
		return "Dr. Rao is on call.", nil
	}, nil, "", DefaultGeminiFallbackModel)

	answer, err := g.Answer(context.Background(), "who is on call?", "ctx")
	require.NoError(t, err)
	assert.Equal(t, "Dr. Rao is on call.", answer)
	assert.Equal(t, []string{DefaultGeminiModel, DefaultGeminiFallbackModel}, models)
}

func TestGeminiAnswerer_BothModelsFail(t *testing.T) {
	g := newGeminiAnswerer(func(ctx context.Context, modelID, system, prompt string) (string, error) {
		return "", errors.New("quota")
	}, nil, "gemini-x", "gemini-y")

	_, err := g.Answer(context.Background(), "q", "ctx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini-x")
	assert.Contains(t, err.Error(), "gemini-y")
}

func TestGeminiAnswerer_NoFallbackConfigured(t *testing.T) {
	calls := 0
	g := newGeminiAnswerer(func(ctx context.Context, modelID, system, prompt string) (string, error) {
		calls++
		return "", nil
	}, nil, "gemini-x", "")

	_, err := g.Answer(context.Background(), "q", "ctx")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNewGeminiAnswerer_RequiresKey(t *testing.T) {
	_, err := NewGeminiAnswerer(context.Background(), " ", "", "")
	assert.Error(t, err)
}

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(ctx context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = in
	return f.out, f.err
}

func TestBedrockAnswerer(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: " You have one upcoming visit. "}},
		}},
	}}
	b := NewBedrockAnswerer(api, "anthropic.claude-3-haiku")

	answer, err := b.Answer(context.Background(), "my appointments?", "UPCOMING APPOINTMENTS:\n- one")
	require.NoError(t, err)
	assert.Equal(t, "You have one upcoming visit.", answer)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(api.input.ModelId))
	require.Len(t, api.input.Messages, 1)
	text := api.input.Messages[0].Content[0].(*brtypes.ContentBlockMemberText).Value
	assert.Contains(t, text, "User Question: my appointments?")
}

func TestBedrockAnswerer_Errors(t *testing.T) {
	_, err := NewBedrockAnswerer(&fakeConverse{}, "").Answer(context.Background(), "q", "c")
	assert.Error(t, err)

	_, err = NewBedrockAnswerer(&fakeConverse{err: errors.New("throttled")}, "m").Answer(context.Background(), "q", "c")
	assert.ErrorContains(t, err, "throttled")

	empty := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{}},
	}}
	_, err = NewBedrockAnswerer(empty, "m").Answer(context.Background(), "q", "c")
	assert.Error(t, err)
}

type stubAnswerer struct {
	name   string
	answer string
	err    error
	calls  int
}

func (s *stubAnswerer) Name() string { return s.name }

func (s *stubAnswerer) Answer(ctx context.Context, query, contextText string) (string, error) {
	s.calls++
	return s.answer, s.err
}

func TestFallbackAnswerer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewAssistantMetrics(reg)

	primary := &stubAnswerer{name: "gemini", err: errors.New("down")}
	fallback := &stubAnswerer{name: "bedrock", answer: "from bedrock"}
	f := NewFallbackAnswerer(primary, fallback, logging.Discard(), m)
	assert.Equal(t, "gemini+bedrock", f.Name())

	answer, err := f.Answer(context.Background(), "q", "c")
	require.NoError(t, err)
	assert.Equal(t, "from bedrock", answer)
	assert.Equal(t, 2, mustGatherCount(t, reg, "medicare_assistant_answer_latency_seconds"))

	fallback.err = errors.New("also down")
	_, err = f.Answer(context.Background(), "q", "c")
	assert.ErrorContains(t, err, "also down")

	primary.err = nil
	primary.answer = "from gemini"
	answer, err = f.Answer(context.Background(), "q", "c")
	require.NoError(t, err)
	assert.Equal(t, "from gemini", answer)
	assert.Equal(t, 2, fallback.calls)
}

func TestFallbackAnswerer_NoFallback(t *testing.T) {
	f := NewFallbackAnswerer(&stubAnswerer{name: "gemini", err: errors.New("down")}, nil, logging.Discard(), nil)
	assert.Equal(t, "gemini", f.Name())
	_, err := f.Answer(context.Background(), "q", "c")
	assert.ErrorContains(t, err, "down")
}

func mustGatherCount(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	n, err := testutil.GatherAndCount(reg, name)
	require.NoError(t, err)
	return n
}
