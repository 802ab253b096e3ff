package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/llmgate/toolgate/internal/gatewayerr"
)

// nativeRequest/nativeResponse mirror an Anthropic-style dialect's wire
// shapes (system/messages/tools, content blocks with a "tool_use" type).
type nativeRequest struct {
	Model       string          `json:"model"`
	Messages    []nativeMessage `json:"messages"`
	System      string          `json:"system,omitempty"`
	Temperature float64         `json:"temperature"`
	Tools       []nativeTool    `json:"tools,omitempty"`
	ToolChoice  nativeToolChoice `json:"tool_choice"`
	Stream      bool            `json:"stream,omitempty"`
}

type nativeMessage struct {
	Role    string              `json:"role"`
	Content []nativeContentBlock `json:"content"`
}

type nativeContentBlock struct {
	Type      string          `json:"type"` // "text" | "tool_use" | "tool_result"
	Text      string          `json:"text,omitempty"`
	ToolUse   *nativeToolCallEnvelope `json:"tool_use,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type nativeTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type nativeToolChoice struct {
	Type string `json:"type"` // "auto" | "any" | "none"
}

type nativeResponse struct {
	Content []nativeContentBlock `json:"content"`
}

type nativeStreamFrame struct {
	Type  string `json:"type"` // "content_delta" | "tool_use_delta" | "message_stop"
	Index int    `json:"index"`
	Delta struct {
		Text        string `json:"text,omitempty"`
		ID          string `json:"id,omitempty"`
		Name        string `json:"name,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta"`
}

func toNativeMessages(msgs []Message) ([]nativeMessage, string) {
	var system string
	out := make([]nativeMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = m.Content
			continue
		}
		nm := nativeMessage{Role: string(m.Role)}
		if m.Role == RoleTool {
			nm.Role = "user"
			nm.Content = append(nm.Content, nativeContentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content})
			out = append(out, nm)
			continue
		}
		if m.Content != "" {
			nm.Content = append(nm.Content, nativeContentBlock{Type: "text", Text: m.Content})
		}
		envs := nativeToolCallsToEnvelopes(m.ToolCalls)
		for i := range envs {
			nm.Content = append(nm.Content, nativeContentBlock{Type: "tool_use", ToolUse: &envs[i]})
		}
		out = append(out, nm)
	}
	return out, system
}

func toNativeTools(tools []ToolDescriptor) []nativeTool {
	out := make([]nativeTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, nativeTool{Name: t.Name, Description: t.Description, InputSchema: flattenSchema(t.Schema)})
	}
	return out
}

func toNativeToolChoice(tc ToolChoice, hasTools bool) nativeToolChoice {
	if !hasTools {
		return nativeToolChoice{Type: "none"}
	}
	switch tc {
	case ToolChoiceRequired:
		return nativeToolChoice{Type: "any"}
	case ToolChoiceNone:
		return nativeToolChoice{Type: "none"}
	default:
		return nativeToolChoice{Type: "auto"}
	}
}

func fromNativeResponse(resp nativeResponse) Message {
	out := Message{Role: RoleAssistant}
	var envs []nativeToolCallEnvelope
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			if block.ToolUse != nil {
				envs = append(envs, *block.ToolUse)
			}
		}
	}
	out.Content = text.String()
	out.ToolCalls = envelopesToToolCalls(envs)
	return out
}

// NativeBackend speaks the gateway's native wire dialect over a hand-rolled
// HTTP/JSON client.
type NativeBackend struct {
	httpClient    *http.Client
	endpoint      string
	apiKey        string
	defaultModel  string
	retryAttempts int
	retryBase     time.Duration
	hook          RequestHook
	logger        *slog.Logger
}

func NewNativeBackend(endpoint, apiKey, defaultModel string, connectTimeout, readTimeout time.Duration, retryAttempts int, retryBase time.Duration, hook RequestHook, logger *slog.Logger) *NativeBackend {
	return &NativeBackend{
		httpClient: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&netDialer{timeout: connectTimeout}).dialContext,
			},
		},
		endpoint:      endpoint,
		apiKey:        apiKey,
		defaultModel:  defaultModel,
		retryAttempts: retryAttempts,
		retryBase:     retryBase,
		hook:          hook,
		logger:        logger,
	}
}

func (b *NativeBackend) Name() string { return "native" }

func (b *NativeBackend) model(params ChatParams) string {
	if params.ModelOverride != "" {
		return params.ModelOverride
	}
	return b.defaultModel
}

func (b *NativeBackend) buildRequest(params ChatParams) nativeRequest {
	messages, system := toNativeMessages(params.Messages)
	hasTools := len(params.Tools) > 0
	req := nativeRequest{
		Model:       b.model(params),
		Messages:    messages,
		System:      system,
		Temperature: params.Temperature,
		ToolChoice:  toNativeToolChoice(params.ToolChoice, hasTools),
	}
	if hasTools {
		req.Tools = toNativeTools(params.Tools)
	}
	return req
}

func (b *NativeBackend) invokeHook(req any) {
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

func (b *NativeBackend) doJSON(ctx context.Context, reqBody any, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindBadRequest, "failed to encode request", err)
	}

	return withConnectionRetry(ctx, b.retryAttempts, b.retryBase, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/v1/messages", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if b.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
		}

		resp, err := b.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			return gatewayerr.New(gatewayerr.KindBackendProtocol, fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, truncate(string(body), 500)))
		}
		if out != nil {
			if err := json.Unmarshal(body, out); err != nil {
				return gatewayerr.Wrap(gatewayerr.KindBackendProtocol, "response was not valid JSON", err)
			}
		}
		return nil
	})
}

func (b *NativeBackend) Chat(ctx context.Context, params ChatParams) (ChatResult, error) {
	req := b.buildRequest(params)
	b.invokeHook(req)

	var resp nativeResponse
	if err := b.doJSON(ctx, req, &resp); err != nil {
		if ge, ok := asGatewayErr(err); ok {
			return ChatResult{}, ge
		}
		return ChatResult{}, classifyError(err)
	}
	return ChatResult{Message: fromNativeResponse(resp)}, nil
}

func (b *NativeBackend) ChatStream(ctx context.Context, params ChatParams) (<-chan StreamDelta, error) {
	req := b.buildRequest(params)
	req.Stream = true
	b.invokeHook(req)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindBadRequest, "failed to encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, gatewayerr.New(gatewayerr.KindBackendProtocol, fmt.Sprintf("backend returned status %d: %s", resp.StatusCode, truncate(string(body), 500)))
	}

	out := make(chan StreamDelta)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		acc := newToolCallAccumulator()
		announced := false
		reader := bufio.NewReader(resp.Body)
		for {
			line, readErr := reader.ReadString('\n')
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if line != "" {
				if line == "[DONE]" {
					out <- StreamDelta{Done: true, ToolCalls: acc.finalize()}
					return
				}
				var frame nativeStreamFrame
				if jsonErr := json.Unmarshal([]byte(line), &frame); jsonErr == nil {
					switch frame.Type {
					case "content_delta":
						if frame.Delta.Text != "" {
							out <- StreamDelta{ContentDelta: frame.Delta.Text}
						}
					case "tool_use_delta":
						if !announced {
							announced = true
							out <- StreamDelta{ToolCallStarted: true}
						}
						acc.add(frame.Index, frame.Delta.ID, frame.Delta.Name, frame.Delta.PartialJSON)
					case "message_stop":
						out <- StreamDelta{Done: true, ToolCalls: acc.finalize()}
						return
					}
				}
			}
			if readErr != nil {
				out <- StreamDelta{Done: true, ToolCalls: acc.finalize()}
				return
			}
		}
	}()
	return out, nil
}

func (b *NativeBackend) Health(ctx context.Context) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"/v1/models", nil)
	if err != nil {
		return HealthResult{Status: HealthAbsent, Message: err.Error()}
	}
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return HealthResult{Status: HealthAbsent, Message: fmt.Sprintf("backend unreachable at %s: %v", b.endpoint, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return HealthResult{Status: HealthNoModelLoaded, Message: fmt.Sprintf("backend reachable but returned status %d", resp.StatusCode)}
	}

	var listing struct {
		Data []any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err == nil && len(listing.Data) == 0 {
		return HealthResult{Status: HealthNoModelLoaded, Message: "backend reachable but no model is loaded"}
	}
	return HealthResult{Status: HealthOK, Message: "ok"}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

func asGatewayErr(err error) (*gatewayerr.Error, bool) {
	ge, ok := err.(*gatewayerr.Error)
	return ge, ok
}
