package httpapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/llmgate/toolgate/internal/gatewayerr"
	"github.com/llmgate/toolgate/internal/orchestrator"
)

// ChatCompletionsHandler serves POST /v1/chat/completions: it validates the
// request body, runs it through the orchestrator, and writes either a single
// JSON completion object or an SSE stream of delta chunks depending on the
// request's stream flag.
type ChatCompletionsHandler struct {
	Orchestrator *orchestrator.Orchestrator
	ModelName    string
	Logger       *slog.Logger
}

func nowUnix() int64 { return time.Now().Unix() }

func NewChatCompletionsHandler(orch *orchestrator.Orchestrator, modelName string, logger *slog.Logger) *ChatCompletionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatCompletionsHandler{Orchestrator: orch, ModelName: modelName, Logger: logger}
}

func (h *ChatCompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	if err := validateChatRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orchReq := buildOrchestratorRequest(req)
	model := h.ModelName
	if req.Model != "" {
		model = req.Model
	}

	if req.Stream {
		h.serveStream(w, r, orchReq, model)
		return
	}
	h.serveSync(w, r, orchReq, model)
}

func (h *ChatCompletionsHandler) serveSync(w http.ResponseWriter, r *http.Request, orchReq orchestrator.Request, model string) {
	result, err := h.Orchestrator.Run(r.Context(), orchReq)
	if err != nil {
		if gatewayerr.Is(err, gatewayerr.KindBadRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Every other kind (backend unavailable/timeout/protocol error) is
		// synthesized as an OpenAI-style completion, not an HTTP failure, and
		// never leaks the raw exception text: the synthesized content only
		// names the condition.
		h.writeSynthesizedCompletion(w, model, synthesizedErrorContent(err))
		return
	}

	h.writeCompletion(w, model, fromBackendMessage(result.FinalMessage))
}

func (h *ChatCompletionsHandler) writeSynthesizedCompletion(w http.ResponseWriter, model, content string) {
	h.writeCompletion(w, model, wireMessage{Role: "assistant", Content: content})
}

func (h *ChatCompletionsHandler) writeCompletion(w http.ResponseWriter, model string, message wireMessage) {
	resp := chatCompletionResponse{
		ID:      "chatcmpl-toolgate",
		Object:  "chat.completion",
		Created: nowUnix(),
		Model:   model,
		Choices: []wireChoice{{
			Index:        0,
			Message:      message,
			FinishReason: "stop",
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// synthesizedErrorContent turns an unrecoverable gatewayerr kind into the
// caller-facing completion text served in place of an HTTP 5xx: the client
// never sees the raw error string.
func synthesizedErrorContent(err error) string {
	switch {
	case gatewayerr.Is(err, gatewayerr.KindBackendTimeout):
		return "The backend did not respond in time. Please try again."
	case gatewayerr.Is(err, gatewayerr.KindBackendUnavailable):
		return "The backend is currently unavailable. Please try again shortly."
	case gatewayerr.Is(err, gatewayerr.KindBackendProtocol):
		return "The backend returned an unexpected response and could not complete this request."
	default:
		return "This request could not be completed."
	}
}

func (h *ChatCompletionsHandler) serveStream(w http.ResponseWriter, r *http.Request, orchReq orchestrator.Request, model string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := h.Orchestrator.RunStream(r.Context(), orchReq)
	if err != nil {
		writeGatewayErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	created := nowUnix()

	for ev := range events {
		var finishReason *string
		if ev.Done {
			fr := ev.FinishReason
			finishReason = &fr
		}
		chunk := chatCompletionChunk{
			ID:      "chatcmpl-toolgate",
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []wireChunkChoice{{
				Index:        0,
				Delta:        wireChunkDelta{Content: ev.ContentDelta},
				FinishReason: finishReason,
			}},
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(bw, "data: %s\n\n", data)
		bw.Flush()
		flusher.Flush()
	}

	fmt.Fprint(bw, "data: [DONE]\n\n")
	bw.Flush()
	flusher.Flush()
}

func writeGatewayErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	if gatewayerr.Is(err, gatewayerr.KindBadRequest) {
		status = http.StatusBadRequest
	} else if gatewayerr.Is(err, gatewayerr.KindBackendTimeout) {
		status = http.StatusGatewayTimeout
	} else if gatewayerr.Is(err, gatewayerr.KindBackendUnavailable) {
		status = http.StatusBadGateway
	} else if gatewayerr.Is(err, gatewayerr.KindBackendProtocol) || gatewayerr.Is(err, gatewayerr.KindToolLoopExhausted) {
		status = http.StatusBadGateway
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Message: message, Type: "invalid_request_error"}})
}
