package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwwzy/IntervAgent/internal/config"
	"github.com/wwwzy/IntervAgent/internal/tools"
)

func sampleConversation() Conversation {
	var conv Conversation
	conv.Append(
		UserMessage("张三的面试表现怎么样？"),
		AssistantMessage("", []tools.Call{{ID: "c1", Name: "lookup_interviewees", Arguments: json.RawMessage(`{"names":["张三"]}`)}}),
		ToolResultMessage(tools.Result{CallID: "c1", Tool: "lookup_interviewees", Payload: map[string]int{"id": 1}}),
	)
	return conv
}

func openAIServer(t *testing.T, status int, body string, seen *map[string]any) *OpenAIGateway {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(raw, seen))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return NewOpenAIGateway(config.ModelConfig{
		Provider: config.ProviderOpenAI,
		APIKey:   "sk-test",
		ModelID:  "test-model",
		BaseURL:  srv.URL + "/v1",
	})
}

func TestOpenAIGateway_ToolCalls(t *testing.T) {
	var req map[string]any
	gw := openAIServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "test-model",
		"choices": [{
			"index": 0,
			"finish_reason": "tool_calls",
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{
					"id": "call_9",
					"type": "function",
					"function": {"name": "analyze_interviewees", "arguments": "{\"interviewee_ids\":[1]}"}
				}]
			}
		}]
	}`, &req)

	descs := tools.Catalog()
	resp, err := gw.Send(context.Background(), sampleConversation(), descs)
	require.NoError(t, err)
	require.Len(t, resp.Calls, 1)
	assert.False(t, resp.Final())
	assert.Equal(t, "call_9", resp.Calls[0].ID)
	assert.Equal(t, "analyze_interviewees", resp.Calls[0].Name)
	assert.JSONEq(t, `{"interviewee_ids":[1]}`, string(resp.Calls[0].Arguments))

	assert.Equal(t, "test-model", req["model"])
	assert.Equal(t, "auto", req["tool_choice"])
	assert.Len(t, req["tools"], len(descs))

	msgs := req["messages"].([]any)
	require.Len(t, msgs, 4)
	system := msgs[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Contains(t, system["content"], "IntervAgent")
	toolMsg := msgs[3].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "c1", toolMsg["tool_call_id"])
}

func TestOpenAIGateway_FinalAnswer(t *testing.T) {
	gw := openAIServer(t, http.StatusOK, `{"choices":[{"index":0,"message":{"role":"assistant","content":"张三表现良好。"}}]}`, nil)
	resp, err := gw.Send(context.Background(), sampleConversation(), tools.Catalog())
	require.NoError(t, err)
	assert.True(t, resp.Final())
	assert.Equal(t, "张三表现良好。", resp.Text)
}

func TestOpenAIGateway_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   GatewayErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`, RateLimited},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`, Unavailable},
		{"no choices", http.StatusOK, `{"id":"x","choices":[]}`, MalformedResponse},
		{"empty answer", http.StatusOK, `{"choices":[{"index":0,"message":{"role":"assistant","content":"  "}}]}`, MalformedResponse},
		{"nameless call", http.StatusOK, `{"choices":[{"index":0,"message":{"role":"assistant","tool_calls":[{"id":"a","type":"function","function":{"name":"","arguments":"{}"}}]}}]}`, MalformedResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := openAIServer(t, tc.status, tc.body, nil)
			_, err := gw.Send(context.Background(), sampleConversation(), tools.Catalog())
			require.Error(t, err)
			var gerr *GatewayError
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, tc.want, gerr.Kind)
		})
	}
}

func TestOpenAIGateway_RetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`)
	}))
	t.Cleanup(srv.Close)
	gw := NewOpenAIGateway(config.ModelConfig{APIKey: "sk-test", ModelID: "test-model", BaseURL: srv.URL + "/v1"})

	_, err := gw.Send(context.Background(), sampleConversation(), tools.Catalog())
	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, RateLimited, gerr.Kind)
	assert.Equal(t, 7*time.Second, gerr.RetryAfter)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("-5", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}

type fakeChatModel struct {
	tools []*schema.ToolInfo
	input []*schema.Message
	reply *schema.Message
	err   error
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.input = input
	return m.reply, m.err
}

func (m *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (m *fakeChatModel) WithTools(infos []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.tools = infos
	return m, nil
}

func TestEinoGateway_Send(t *testing.T) {
	cm := &fakeChatModel{reply: &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "call_1",
			Function: schema.FunctionCall{Name: "generate_reports", Arguments: `{"interviewee_ids":[1]}`},
		}},
	}}
	gw := NewEinoGateway(cm)

	resp, err := gw.Send(context.Background(), sampleConversation(), tools.Catalog())
	require.NoError(t, err)
	require.Len(t, resp.Calls, 1)
	assert.Equal(t, "generate_reports", resp.Calls[0].Name)

	assert.Len(t, cm.tools, len(tools.Catalog()))
	require.Len(t, cm.input, 4)
	assert.Equal(t, schema.System, cm.input[0].Role)
	assert.NotContains(t, cm.input[0].Content, "{os}")
	assert.Equal(t, schema.Assistant, cm.input[2].Role)
	require.Len(t, cm.input[2].ToolCalls, 1)
	assert.Equal(t, "c1", cm.input[2].ToolCalls[0].ID)
	assert.Equal(t, schema.Tool, cm.input[3].Role)
	assert.Equal(t, "c1", cm.input[3].ToolCallID)
}

func TestEinoGateway_Errors(t *testing.T) {
	gw := NewEinoGateway(&fakeChatModel{err: errors.New("status 429: TooManyRequests")})
	_, err := gw.Send(context.Background(), sampleConversation(), tools.Catalog())
	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, RateLimited, gerr.Kind)

	gw = NewEinoGateway(&fakeChatModel{err: errors.New("dial tcp: connection refused")})
	_, err = gw.Send(context.Background(), sampleConversation(), tools.Catalog())
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, Unavailable, gerr.Kind)

	gw = NewEinoGateway(&fakeChatModel{reply: &schema.Message{Role: schema.Assistant}})
	_, err = gw.Send(context.Background(), sampleConversation(), tools.Catalog())
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, MalformedResponse, gerr.Kind)
}

func TestNewGateway(t *testing.T) {
	gw, err := NewGateway(context.Background(), config.ModelConfig{Provider: config.ProviderOpenAI, APIKey: "k", ModelID: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIGateway{}, gw)

	_, err = NewGateway(context.Background(), config.ModelConfig{Provider: config.ProviderArk})
	assert.Error(t, err)

	_, err = NewGateway(context.Background(), config.ModelConfig{Provider: "bogus"})
	assert.Error(t, err)
}
