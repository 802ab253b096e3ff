package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/llmgate/toolgate/internal/gatewayerr"
)

// OpenAICompatibleBackend speaks the OpenAI chat-completions wire dialect
// via sashabaranov/go-openai.
type OpenAICompatibleBackend struct {
	client        *openai.Client
	defaultModel  string
	retryAttempts int
	retryBase     time.Duration
	readTimeout   time.Duration
	hook          RequestHook
	logger        *slog.Logger
	endpoint      string
}

func NewOpenAICompatibleBackend(endpoint, apiKey, defaultModel string, connectTimeout, readTimeout time.Duration, retryAttempts int, retryBase time.Duration, hook RequestHook, logger *slog.Logger) *OpenAICompatibleBackend {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = endpoint
	cfg.HTTPClient = &http.Client{
		Timeout: readTimeout,
		Transport: &http.Transport{
			DialContext: (&netDialer{timeout: connectTimeout}).dialContext,
		},
	}
	return &OpenAICompatibleBackend{
		client:        openai.NewClientWithConfig(cfg),
		defaultModel:  defaultModel,
		retryAttempts: retryAttempts,
		retryBase:     retryBase,
		readTimeout:   readTimeout,
		hook:          hook,
		logger:        logger,
		endpoint:      endpoint,
	}
}

func (b *OpenAICompatibleBackend) Name() string { return "openai-compatible" }

func (b *OpenAICompatibleBackend) model(params ChatParams) string {
	if params.ModelOverride != "" {
		return params.ModelOverride
	}
	return b.defaultModel
}

func (b *OpenAICompatibleBackend) buildRequest(params ChatParams) openai.ChatCompletionRequest {
	hasTools := len(params.Tools) > 0
	req := openai.ChatCompletionRequest{
		Model:       b.model(params),
		Messages:    toOpenAIMessages(params.Messages),
		Temperature: float32(params.Temperature),
	}
	if hasTools {
		req.Tools = toOpenAITools(params.Tools)
	}
	req.ToolChoice = toOpenAIToolChoice(params.ToolChoice, hasTools)
	return req
}

func (b *OpenAICompatibleBackend) invokeHook(req any) {
	if b.hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("request hook panicked", "backend", b.Name(), "panic", r)
		}
	}()
	b.hook(b.Name(), req)
}

func (b *OpenAICompatibleBackend) Chat(ctx context.Context, params ChatParams) (ChatResult, error) {
	req := b.buildRequest(params)
	b.invokeHook(req)

	var resp openai.ChatCompletionResponse
	err := withConnectionRetry(ctx, b.retryAttempts, b.retryBase, func() error {
		var callErr error
		resp, callErr = b.client.CreateChatCompletion(ctx, req)
		return callErr
	})
	if err != nil {
		return ChatResult{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return ChatResult{}, gatewayerr.New(gatewayerr.KindBackendProtocol, "response carried no choices")
	}
	return ChatResult{Message: fromOpenAIMessage(resp.Choices[0].Message)}, nil
}

func (b *OpenAICompatibleBackend) ChatStream(ctx context.Context, params ChatParams) (<-chan StreamDelta, error) {
	req := b.buildRequest(params)
	req.Stream = true
	b.invokeHook(req)

	var stream *openai.ChatCompletionStream
	err := withConnectionRetry(ctx, b.retryAttempts, b.retryBase, func() error {
		var callErr error
		stream, callErr = b.client.CreateChatCompletionStream(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, classifyError(err)
	}

	out := make(chan StreamDelta)
	go func() {
		defer close(out)
		defer stream.Close()

		acc := newToolCallAccumulator()
		announced := false
		for {
			chunk, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				out <- StreamDelta{Done: true, ToolCalls: acc.finalize()}
				return
			}
			if recvErr != nil {
				b.logger.Error("stream read failed", "error", recvErr)
				out <- StreamDelta{Done: true, ToolCalls: acc.finalize()}
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if len(delta.ToolCalls) > 0 && !announced {
				announced = true
				out <- StreamDelta{ToolCallStarted: true}
			}
			if delta.Content != "" {
				out <- StreamDelta{ContentDelta: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc.add(idx, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
		}
	}()
	return out, nil
}

func (b *OpenAICompatibleBackend) Health(ctx context.Context) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	models, err := b.client.ListModels(ctx)
	if err != nil {
		if isConnectionClassError(err) {
			return HealthResult{Status: HealthAbsent, Message: fmt.Sprintf("backend unreachable at %s: %v", b.endpoint, err)}
		}
		return HealthResult{Status: HealthAbsent, Message: err.Error()}
	}
	if len(models.Models) == 0 {
		return HealthResult{Status: HealthNoModelLoaded, Message: "backend reachable but no model is loaded"}
	}
	return HealthResult{Status: HealthOK, Message: "ok"}
}

func classifyError(err error) error {
	if isConnectionClassError(err) {
		return gatewayerr.Wrap(gatewayerr.KindBackendUnavailable, "connection failed after retries", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return gatewayerr.Wrap(gatewayerr.KindBackendTimeout, "read timeout exceeded", err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return gatewayerr.Wrap(gatewayerr.KindBackendProtocol, fmt.Sprintf("backend returned status %d", apiErr.HTTPStatusCode), err)
	}
	return gatewayerr.Wrap(gatewayerr.KindBackendProtocol, "unexpected backend error", err)
}
