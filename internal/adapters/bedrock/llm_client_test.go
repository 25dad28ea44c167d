package bedrock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/core"
)

type fakeRuntime struct {
	input *bedrockruntime.InvokeModelInput
	body  string
}

func (f *fakeRuntime) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestCompleteAnthropic(t *testing.T) {
	rt := &fakeRuntime{body: `{"completion":"{\"match\": true}"}`}
	c := NewBedrockClient(rt, "anthropic.claude-v2", zap.NewNop())

	out, err := c.Complete(context.Background(), core.CompletionRequest{Prompt: "p", Params: core.DefaultGenerationParams()})
	require.NoError(t, err)
	assert.Equal(t, `{"match": true}`, out)

	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal(rt.input.Body, &sent))
	assert.Equal(t, "\n\nHuman: p\n\nAssistant:", sent["prompt"])
	assert.Equal(t, float64(4096), sent["max_tokens_to_sample"])
}

func TestCompleteTitan(t *testing.T) {
	rt := &fakeRuntime{body: `{"results":[{"outputText":"{\"match\": false}"}]}`}
	c := NewBedrockClient(rt, "amazon.titan-text-express-v1", zap.NewNop())

	out, err := c.Complete(context.Background(), core.CompletionRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, `{"match": false}`, out)
}

func TestCompleteGenericFallsBackToRawBody(t *testing.T) {
	rt := &fakeRuntime{body: `{"unexpected":1}`}
	c := NewBedrockClient(rt, "meta.llama3", zap.NewNop())

	out, err := c.Complete(context.Background(), core.CompletionRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, `{"unexpected":1}`, out)
}
