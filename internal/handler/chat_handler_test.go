package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chat-cbd-go/internal/model"
	"chat-cbd-go/internal/service"
	"chat-cbd-go/pkg/log"
	"chat-cbd-go/pkg/provider"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	log.Init("error", "console", "")
	m.Run()
}

// fakeDispatchService 记录最近一次请求并返回预置结果。
type fakeDispatchService struct {
	result *service.DispatchResult
	err    error
	gotReq service.DispatchRequest
	called bool
}

func (f *fakeDispatchService) SendMessage(_ context.Context, req service.DispatchRequest) (*service.DispatchResult, error) {
	f.called = true
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestRouter(dispatch service.DispatchService) *gin.Engine {
	r := gin.New()
	h := NewChatHandler(dispatch)
	r.POST("/send-message", h.SendMessage)
	r.GET("/ping", h.Ping)
	return r
}

func doSendMessage(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/send-message", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSendMessageTextResponse(t *testing.T) {
	dispatch := &fakeDispatchService{
		result: &service.DispatchResult{
			Reply:          model.Message{Role: model.RoleSystem, Content: "Hi there.", Type: model.TypeText},
			ConversationID: "conv-1",
		},
	}
	router := newTestRouter(dispatch)

	w := doSendMessage(t, router, `{
		"userPrompt": {"role": "user", "content": "Hello", "type": "text"},
		"type": "text",
		"activeConversation": null,
		"userId": "u1"
	}`)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Hi there.", body["bot"])
	assert.Equal(t, "text", body["type"])
	assert.NotContains(t, body, "images")

	// activeConversation 为 null 时，调度层收到空 id
	assert.Equal(t, "", dispatch.gotReq.ConversationID)
	assert.Equal(t, model.TypeText, dispatch.gotReq.Type)
	assert.Equal(t, "u1", dispatch.gotReq.UserID)
}

func TestSendMessageImageResponse(t *testing.T) {
	dispatch := &fakeDispatchService{
		result: &service.DispatchResult{
			Reply: model.Message{
				Role:   model.RoleSystem,
				Type:   model.TypeImage,
				Images: []string{"https://blob.test/a.png", "https://blob.test/b.png"},
			},
			ConversationID: "conv-1",
		},
	}
	router := newTestRouter(dispatch)

	w := doSendMessage(t, router, `{
		"userPrompt": {"role": "user", "content": "a red fox", "type": "text"},
		"type": "image",
		"selectedImageSize": "256x256",
		"selectedImageProvider": "Stable Diffusion",
		"activeConversation": "conv-1",
		"userId": "u1"
	}`)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Bot    string   `json:"bot"`
		Type   string   `json:"type"`
		Images []string `json:"images"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "", body.Bot)
	assert.Equal(t, "image", body.Type)
	assert.Equal(t, []string{"https://blob.test/a.png", "https://blob.test/b.png"}, body.Images)

	assert.Equal(t, "conv-1", dispatch.gotReq.ConversationID)
	assert.Equal(t, "256x256", dispatch.gotReq.ImageSize)
	assert.Equal(t, "Stable Diffusion", dispatch.gotReq.ImageProvider)
}

func TestSendMessageMirrorsProviderStatus(t *testing.T) {
	dispatch := &fakeDispatchService{
		err: &provider.Error{Status: http.StatusTooManyRequests, Message: "Rate limit reached"},
	}
	router := newTestRouter(dispatch)

	w := doSendMessage(t, router, `{
		"userPrompt": {"role": "user", "content": "Hello", "type": "text"},
		"type": "text",
		"userId": "u1"
	}`)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit reached", body["error"])
}

func TestSendMessageUnknownErrorFallsBackTo500(t *testing.T) {
	dispatch := &fakeDispatchService{err: errors.New("redis down")}
	router := newTestRouter(dispatch)

	w := doSendMessage(t, router, `{
		"userPrompt": {"role": "user", "content": "Hello", "type": "text"},
		"type": "text",
		"userId": "u1"
	}`)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "An unknown error occurred", body["error"])
}

func TestSendMessageInvalidPayload(t *testing.T) {
	dispatch := &fakeDispatchService{}
	router := newTestRouter(dispatch)

	tests := []struct {
		name string
		body string
	}{
		{name: "missing userId", body: `{"userPrompt": {"role": "user", "content": "Hi", "type": "text"}, "type": "text"}`},
		{name: "bad type", body: `{"userPrompt": {"role": "user", "content": "Hi", "type": "text"}, "type": "audio", "userId": "u1"}`},
		{name: "not json", body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doSendMessage(t, router, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, dispatch.called)
		})
	}
}

func TestPing(t *testing.T) {
	router := newTestRouter(&fakeDispatchService{})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}
