package google

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"concierge/pkg/llm"
)

func toolCallTurn(text string, raw *genai.Content) llm.Message {
	return llm.Message{
		Role:    llm.RoleModel,
		Content: text,
		ToolCalls: []llm.ToolCall{
			{ID: "show_pricing", Name: "show_pricing", Args: map[string]any{}, Raw: raw},
		},
	}
}

func textParts(contents []*genai.Content) []string {
	var texts []string
	for _, c := range contents {
		for _, p := range c.Parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
	}
	return texts
}

func TestConvertMessagesReplaysNativeToolTurn(t *testing.T) {
	native := &genai.Content{
		Role: "model",
		Parts: []*genai.Part{
			{Text: "внутренний черновик с подписью"},
			{FunctionCall: &genai.FunctionCall{Name: "show_pricing"}},
		},
	}
	conv := llm.Conversation{
		llm.NewUserMessage("Сколько стоит лендинг?"),
		toolCallTurn("", native),
		{Role: llm.RoleUser, ToolResults: []llm.ToolResult{{ToolName: "show_pricing", Content: "пакеты"}}},
	}

	contents, _, err := convertMessages(conv)
	require.NoError(t, err)
	require.Len(t, contents, 3)
	assert.Same(t, native, contents[1], "the native turn is replayed verbatim")
}

func TestConvertMessagesRebuildsToolTurnWithoutNativeContent(t *testing.T) {
	conv := llm.Conversation{
		llm.NewUserMessage("Сколько стоит лендинг?"),
		toolCallTurn("Сейчас покажу цены.", nil),
	}

	contents, _, err := convertMessages(conv)
	require.NoError(t, err)
	require.Len(t, contents, 2)

	turn := contents[1]
	assert.Equal(t, "model", turn.Role)
	require.Len(t, turn.Parts, 2)
	assert.Equal(t, "Сейчас покажу цены.", turn.Parts[0].Text)
	require.NotNil(t, turn.Parts[1].FunctionCall)
	assert.Equal(t, "show_pricing", turn.Parts[1].FunctionCall.Name)
}

func TestConversationsDoNotShareReplayState(t *testing.T) {
	nativeA := &genai.Content{
		Role:  "model",
		Parts: []*genai.Part{{Text: "ответ только для клиента А"}},
	}
	convA := llm.Conversation{
		llm.NewUserMessage("вопрос клиента А"),
		toolCallTurn("", nativeA),
	}
	convB := llm.Conversation{
		llm.NewUserMessage("вопрос клиента Б"),
		toolCallTurn("формирую ответ для клиента Б", nil),
	}

	// Interleave the conversions the way one shared client serves two
	// concurrent dialogs.
	_, _, err := convertMessages(convA)
	require.NoError(t, err)
	contentsB, _, err := convertMessages(convB)
	require.NoError(t, err)

	for _, text := range textParts(contentsB) {
		assert.NotContains(t, text, "клиента А")
	}
}

func TestConvertMessagesLiftsSystemInstruction(t *testing.T) {
	conv := llm.Conversation{
		{Role: llm.RoleSystem, Content: "Ты — менеджер веб-студии."},
		llm.NewUserMessage("Привет"),
	}

	contents, system, err := convertMessages(conv)
	require.NoError(t, err)
	assert.Equal(t, "Ты — менеджер веб-студии.", system)
	require.Len(t, contents, 1)
	assert.Equal(t, "user", contents[0].Role)
}

func TestClientCarriesNoConversationState(t *testing.T) {
	client := NewClient("key", "gemini-2.5-flash")
	gemini, ok := client.(*GeminiClient)
	require.True(t, ok)

	// The only mutable field is the lazily created SDK handle; everything
	// a later turn needs rides in the conversation itself.
	assert.Nil(t, gemini.client)
	assert.Equal(t, "gemini-2.5-flash", gemini.ModelName())
}