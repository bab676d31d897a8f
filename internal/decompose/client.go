package decompose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// ErrMissingAPIKey is returned when the direct API path has no key.
var ErrMissingAPIKey = errors.New("anthropic API key is not set")

const defaultMaxTokens = 8192

const systemPrompt = "You plan software work. Answer with the requested JSON only."

// ClientConfig contains configuration for creating a ClaudeClient.
type ClientConfig struct {
	// Model is the Claude model to use. Empty selects Sonnet 4.5.
	Model string
	// APIKey is the Anthropic API key; required unless UseBedrock is set.
	APIKey     string
	UseBedrock bool
	AWSRegion  string
	AWSProfile string
	// MaxTokens caps the reply length. Zero uses 8192.
	MaxTokens int64
}

// ClaudeClient sends single-turn prompts to Claude and tracks token usage.
type ClaudeClient struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64

	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// Verify ClaudeClient implements Completer at compile time.
var _ Completer = (*ClaudeClient)(nil)

// NewClaudeClient creates a client for the direct API or AWS Bedrock.
func NewClaudeClient(ctx context.Context, cfg ClientConfig) (*ClaudeClient, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		if cfg.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}
	if cfg.UseBedrock {
		model = BedrockModel(model)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &ClaudeClient{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// BedrockModel converts a standard model name to its Bedrock cross-region
// inference profile. Unknown names are returned unchanged.
func BedrockModel(model anthropic.Model) anthropic.Model {
	if strings.HasPrefix(string(model), "us.anthropic.") {
		return model
	}
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
	}
	if m, ok := bedrockModels[model]; ok {
		return anthropic.Model(m)
	}
	return model
}

// Model returns the model requests are sent to.
func (c *ClaudeClient) Model() anthropic.Model {
	return c.model
}

// Complete sends prompt as a single user message and returns the concatenated text blocks.
func (c *ClaudeClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude request: %w", err)
	}

	c.mu.Lock()
	c.inputTok += resp.Usage.InputTokens
	c.outputTok += resp.Usage.OutputTokens
	c.calls++
	c.mu.Unlock()

	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("claude returned no text (stop reason %q)", resp.StopReason)
	}
	return sb.String(), nil
}

// Usage returns the tokens consumed and the number of calls made so far.
func (c *ClaudeClient) Usage() (input, output int64, calls int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputTok, c.outputTok, c.calls
}
