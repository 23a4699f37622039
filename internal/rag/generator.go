package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/xr-voice-gateway/internal/logging"
	"github.com/xr-voice-gateway/internal/session"
	"github.com/xr-voice-gateway/llm"
)

const (
	DefaultTopK  = 3
	DefaultGroup = "B"
)

// ChatModel completes a conversation.
type ChatModel interface {
	Chat(ctx context.Context, messages []llm.Message) (string, error)
}

// OpenAIChat adapts an llm.Client to ChatModel.
type OpenAIChat struct {
	Client *llm.Client
}

func (o OpenAIChat) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return o.Client.Complete(ctx, messages)
}

// Generator answers a question from retrieved reference material and the
// session's prior turns.
type Generator struct {
	retriever Retriever
	model     ChatModel
	topK      int
	group     string
}

func NewGenerator(retriever Retriever, model ChatModel, topK int, group string) *Generator {
	if retriever == nil {
		retriever = NoopRetriever{}
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if group == "" {
		group = DefaultGroup
	}
	return &Generator{retriever: retriever, model: model, topK: topK, group: group}
}

func (g *Generator) Answer(ctx context.Context, question string, history []session.Turn) (string, error) {
	docs, err := g.retriever.Retrieve(ctx, question, g.topK)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logging.WarnwCtx(ctx, "rag: retrieval failed, answering without context", "err", err)
		docs = nil
	}
	logging.DebugwCtx(ctx, "rag: retrieved", "chunks", len(docs))

	answer, err := g.model.Chat(ctx, BuildMessages(question, JoinContext(docs), g.group, history))
	if err != nil {
		return "", errors.Wrap(err, "rag: chat")
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", errors.New("rag: empty completion")
	}
	return answer, nil
}

// JoinContext concatenates chunk contents separated by blank lines.
func JoinContext(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, "\n\n")
}

const systemPrompt = `You are an expert Construction Safety Officer and NEC Code Specialist.
CONTEXT FROM MANUALS:
%s

INSTRUCTIONS:
- Answer based ONLY on the provided context.
- Concise (under 3 sentences).
- Group %s.`

// BuildMessages lays out the system prompt, then history oldest first, then
// the question.
func BuildMessages(question, contextText, group string, history []session.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: fmt.Sprintf(systemPrompt, contextText, group)})
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == session.RoleAgent {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: question})
}
