package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"jarvis-go/internal/model"
	"jarvis-go/internal/plugin"
	"jarvis-go/internal/repository"
	"jarvis-go/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageAppendsBothTurns(t *testing.T) {
	repo := repository.NewConversationRepository()
	fake := &fakeLLM{completeResult: &llm.Result{
		Content: "Hi there",
		Usage:   llm.Usage{InputTokens: 12, OutputTokens: 4},
	}}
	svc := NewConversationService(repo, fake, 20)

	result, err := svc.SendMessage(context.Background(), "Hello", "default")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", result.Response)
	assert.Equal(t, "default", result.ConversationID)
	assert.Equal(t, 12, result.Usage.InputTokens)

	history := svc.GetHistory("default")
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, model.RoleAssistant, history[1].Role)

	// 模型收到的最后一条是新的用户消息
	require.NotEmpty(t, fake.gotMessages)
	assert.Equal(t, "Hello", fake.gotMessages[len(fake.gotMessages)-1].Content)
}

func TestSendMessageProviderFailureLeavesOnlyUserTurn(t *testing.T) {
	repo := repository.NewConversationRepository()
	fake := &fakeLLM{completeErr: errors.New("provider down")}
	svc := NewConversationService(repo, fake, 20)

	_, err := svc.SendMessage(context.Background(), "Hello", "default")
	require.Error(t, err)

	history := svc.GetHistory("default")
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleUser, history[0].Role)
}

func TestSendMessageTrimsToCap(t *testing.T) {
	repo := repository.NewConversationRepository()
	fake := &fakeLLM{completeResult: &llm.Result{Content: "answer"}}
	svc := NewConversationService(repo, fake, 20)

	for i := 0; i < 15; i++ {
		_, err := svc.SendMessage(context.Background(), fmt.Sprintf("question-%d", i), "default")
		require.NoError(t, err)
	}

	assert.Len(t, svc.GetHistory("default"), 20)
}

func TestClearHistory(t *testing.T) {
	repo := repository.NewConversationRepository()
	fake := &fakeLLM{completeResult: &llm.Result{Content: "answer"}}
	svc := NewConversationService(repo, fake, 20)

	_, err := svc.SendMessage(context.Background(), "Hello", "default")
	require.NoError(t, err)

	svc.ClearHistory("default")
	assert.Empty(t, svc.GetHistory("default"))
}

func TestRestSurfaceSharesStoreWithRealtime(t *testing.T) {
	repo := repository.NewConversationRepository()
	fake := &fakeLLM{completeResult: &llm.Result{Content: "rest answer"}, chunks: []string{"ws answer"}}
	restSvc := NewConversationService(repo, fake, 20)
	chatSvc := NewChatService(repo, plugin.NewManager(), fake, 20)
	w := &recordingWriter{}

	_, err := restSvc.SendMessage(context.Background(), "via rest", "shared")
	require.NoError(t, err)
	require.NoError(t, chatSvc.HandleChat(context.Background(), "conn-1", "via ws", "shared", w))

	history := restSvc.GetHistory("shared")
	require.Len(t, history, 4)
	assert.Equal(t, "via rest", history[0].Content)
	assert.Equal(t, "ws answer", history[3].Content)
}
