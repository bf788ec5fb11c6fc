package dispatch

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rendis/tabflow/internal/expressions"
	"github.com/rendis/tabflow/pkg/schema"
)

// maxLLMContext bounds the serialized prior results sent with a prompt.
const maxLLMContext = 24000

// LLMConfig configures the OpenAI-compatible chat endpoint used by analyze
// steps with engine "llm".
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Completer returns a chat completion for a system and user prompt.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAICompleter calls the chat completions API through openai-go.
type OpenAICompleter struct {
	client openai.Client
	model  string
}

func NewOpenAICompleter(cfg LLMConfig, opts ...option.RequestOption) *OpenAICompleter {
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)
	model := cfg.Model
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return &OpenAICompleter{client: openai.NewClient(reqOpts...), model: model}
}

func (c *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", schema.NewError(schema.ErrCodeHandler, "llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Analyzer evaluates analyze steps with a local expression engine or an LLM.
type Analyzer struct {
	engines expressions.Engines
	llm     Completer
}

// NewAnalyzer wires the local engines; llm may be nil to disable engine "llm".
func NewAnalyzer(engines expressions.Engines, llm Completer) *Analyzer {
	return &Analyzer{engines: engines, llm: llm}
}

const analyzeSystemPrompt = "You analyze results of browser automation steps. " +
	"Answer the instruction using only the JSON context provided. Be concise."

// Analyze picks the engine from params: "engine" when set, otherwise llm for
// a bare "prompt" and jq for an "expression".
func (a *Analyzer) Analyze(ctx context.Context, params map[string]any, scope *expressions.Scope) (map[string]any, error) {
	expr := stringParam(params, "expression", "")
	prompt := stringParam(params, "prompt", "")
	engine := stringParam(params, "engine", "")
	if engine == "" {
		engine = "jq"
		if expr == "" && prompt != "" {
			engine = "llm"
		}
	}

	if engine == "llm" {
		if prompt == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "analyze: engine llm requires param \"prompt\"")
		}
		if a.llm == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "analyze: llm engine not configured")
		}
		raw, err := json.Marshal(scope.Steps)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeHandler, "analyze: encode context").WithCause(err)
		}
		contextJSON := string(raw)
		if len(contextJSON) > maxLLMContext {
			contextJSON = contextJSON[:maxLLMContext]
		}
		var user strings.Builder
		user.WriteString(prompt)
		user.WriteString("\n\nContext (step results as JSON):\n")
		user.WriteString(contextJSON)
		answer, err := a.llm.Complete(ctx, analyzeSystemPrompt, user.String())
		if err != nil {
			return nil, schema.AsFlowError(err, schema.ErrCodeHandler)
		}
		return map[string]any{"engine": "llm", "result": strings.TrimSpace(answer)}, nil
	}

	if expr == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "analyze: engine %s requires param \"expression\"", engine)
	}
	eng, err := a.engines.Get(engine)
	if err != nil {
		return nil, err
	}
	result, err := eng.Evaluate(ctx, expr, scope.Map())
	if err != nil {
		return nil, err
	}
	return map[string]any{"engine": engine, "result": result}, nil
}
