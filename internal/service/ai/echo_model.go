package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EchoModel is an offline model that repeats the last user message back,
// split into small chunks when streamed. Used by AI_MOCK and tests.
type EchoModel struct {
	// ChunkSize is the number of runes per streamed chunk.
	ChunkSize int
	// Prefix is prepended to the echoed text.
	Prefix string
}

var _ model.ChatModel = (*EchoModel)(nil)

// NewEchoModel returns an echo model with default chunking.
func NewEchoModel() *EchoModel {
	return &EchoModel{ChunkSize: 4, Prefix: "收到："}
}

func (m *EchoModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	reply, err := m.reply(input)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(reply, nil), nil
}

func (m *EchoModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	reply, err := m.reply(input)
	if err != nil {
		return nil, err
	}

	size := m.ChunkSize
	if size <= 0 {
		size = 4
	}
	runes := []rune(reply)
	chunks := make([]*schema.Message, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		chunks = append(chunks, schema.AssistantMessage(string(runes[start:end]), nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

// BindTools is accepted and ignored.
func (m *EchoModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

func (m *EchoModel) reply(input []*schema.Message) (string, error) {
	for i := len(input) - 1; i >= 0; i-- {
		if input[i].Role == schema.User {
			return fmt.Sprintf("%s%s", m.Prefix, input[i].Content), nil
		}
	}
	return "", errors.New("echo model: no user message in input")
}
