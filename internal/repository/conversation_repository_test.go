package repository

import (
	"fmt"
	"testing"
	"time"

	"jarvis-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userMsg(content string) model.ChatMessage {
	return model.ChatMessage{Role: model.RoleUser, Content: content, Timestamp: time.Now()}
}

func assistantMsg(content string) model.ChatMessage {
	return model.ChatMessage{Role: model.RoleAssistant, Content: content, Timestamp: time.Now()}
}

func TestGetHistoryCreatesEmptyConversation(t *testing.T) {
	repo := NewConversationRepository()

	history := repo.GetHistory("s1")
	assert.Empty(t, history)

	// 返回的是副本，调用方修改不影响存储
	repo.Append("s1", userMsg("hello"))
	history = repo.GetHistory("s1")
	history[0].Content = "mutated"
	assert.Equal(t, "hello", repo.GetHistory("s1")[0].Content)
}

func TestAppendKeepsOrder(t *testing.T) {
	repo := NewConversationRepository()
	repo.Append("s1", userMsg("one"))
	repo.Append("s1", assistantMsg("two"))
	repo.Append("s1", userMsg("three"))

	history := repo.GetHistory("s1")
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "two", history[1].Content)
	assert.Equal(t, "three", history[2].Content)
}

func TestSeedHistoryFirstWriterWins(t *testing.T) {
	repo := NewConversationRepository()

	seeded := repo.SeedHistory("s1", []model.ChatMessage{userMsg("restored")})
	assert.True(t, seeded)
	require.Len(t, repo.GetHistory("s1"), 1)
	assert.Equal(t, "restored", repo.GetHistory("s1")[0].Content)

	// 服务端已有历史时，客户端提交的版本被忽略
	seeded = repo.SeedHistory("s1", []model.ChatMessage{userMsg("stale"), assistantMsg("stale too")})
	assert.False(t, seeded)
	require.Len(t, repo.GetHistory("s1"), 1)
	assert.Equal(t, "restored", repo.GetHistory("s1")[0].Content)
}

func TestSeedHistoryIntoExistingEmptyConversation(t *testing.T) {
	repo := NewConversationRepository()
	// GetHistory 已创建空会话，播种仍然成立
	_ = repo.GetHistory("s1")

	seeded := repo.SeedHistory("s1", []model.ChatMessage{userMsg("restored")})
	assert.True(t, seeded)
	assert.Len(t, repo.GetHistory("s1"), 1)
}

func TestStreamChunksBuildTrailingAssistantTurn(t *testing.T) {
	repo := NewConversationRepository()
	repo.Append("s1", userMsg("question"))

	repo.AppendStreamChunk("s1", "He")
	repo.AppendStreamChunk("s1", "llo")

	history := repo.GetHistory("s1")
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello", history[1].Content)

	full := repo.CompleteStream("s1")
	assert.Equal(t, "Hello", full)
	// 定稿后再来的分块属于新的一条消息
	repo.AppendStreamChunk("s1", "next")
	assert.Len(t, repo.GetHistory("s1"), 3)
}

func TestAbortStreamDiscardsPartialTurn(t *testing.T) {
	repo := NewConversationRepository()
	repo.Append("s1", userMsg("question"))
	repo.AppendStreamChunk("s1", "partial answ")

	repo.AbortStream("s1")

	history := repo.GetHistory("s1")
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleUser, history[0].Role)

	// 没有生成中的消息时是空操作
	repo.AbortStream("s1")
	assert.Len(t, repo.GetHistory("s1"), 1)
}

func TestCompleteStreamWithoutChunksIsEmpty(t *testing.T) {
	repo := NewConversationRepository()
	assert.Equal(t, "", repo.CompleteStream("s1"))
}

func TestTrimRemovesOldestFirst(t *testing.T) {
	repo := NewConversationRepository()
	for i := 0; i < 25; i++ {
		repo.Append("s1", userMsg(fmt.Sprintf("msg-%d", i)))
	}

	repo.Trim("s1", 20)
	history := repo.GetHistory("s1")
	require.Len(t, history, 20)
	assert.Equal(t, "msg-5", history[0].Content)
	assert.Equal(t, "msg-24", history[19].Content)
}

func TestTrimIsIdempotent(t *testing.T) {
	repo := NewConversationRepository()
	for i := 0; i < 25; i++ {
		repo.Append("s1", userMsg(fmt.Sprintf("msg-%d", i)))
	}

	repo.Trim("s1", 20)
	first := repo.GetHistory("s1")
	repo.Trim("s1", 20)
	assert.Equal(t, first, repo.GetHistory("s1"))
}

func TestTrimNeverRemovesInProgressTurn(t *testing.T) {
	repo := NewConversationRepository()
	repo.Append("s1", userMsg("question"))
	repo.AppendStreamChunk("s1", "answering")

	repo.Trim("s1", 0)

	history := repo.GetHistory("s1")
	require.Len(t, history, 1)
	assert.Equal(t, model.RoleAssistant, history[0].Role)
}

func TestTrimUnknownSessionIsNoop(t *testing.T) {
	repo := NewConversationRepository()
	repo.Trim("missing", 20)
	assert.Empty(t, repo.GetHistory("missing"))
}

func TestClearDeletesHistoryAndKeyIsReusable(t *testing.T) {
	repo := NewConversationRepository()
	for i := 0; i < 5; i++ {
		repo.Append("s1", userMsg(fmt.Sprintf("msg-%d", i)))
	}

	repo.Clear("s1")
	assert.Empty(t, repo.GetHistory("s1"))

	repo.Append("s1", userMsg("fresh start"))
	assert.Len(t, repo.GetHistory("s1"), 1)
}

func TestConcurrentAccessAcrossSessions(t *testing.T) {
	repo := NewConversationRepository()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			id := fmt.Sprintf("s%d", i)
			for j := 0; j < 100; j++ {
				repo.Append(id, userMsg(fmt.Sprintf("msg-%d", j)))
				repo.Trim(id, 20)
				_ = repo.GetHistory(id)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	for i := 0; i < 8; i++ {
		assert.Len(t, repo.GetHistory(fmt.Sprintf("s%d", i)), 20)
	}
}
