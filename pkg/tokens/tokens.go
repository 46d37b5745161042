// Package tokens enforces per-model token budgets over text and
// conversation history.
package tokens

import (
	"errors"
	"fmt"
	"sync"

	"github.com/parlancehq/parlance/pkg/conversation"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// ErrUnknownModel is returned when no tokenizer is registered for a model
// identifier. This is a configuration error and is never retried.
var ErrUnknownModel = errors.New("no tokenizer for model")

// Per-message framing overhead in the chat format, on top of the content
// tokens themselves.
const messageOverhead = 4

var (
	loaderOnce sync.Once
	encoders   sync.Map // model -> *tiktoken.Tiktoken
)

func encoderFor(model string) (*tiktoken.Tiktoken, error) {
	loaderOnce.Do(func() {
		// Embedded BPE dictionaries keep tokenization hermetic.
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	if enc, ok := encoders.Load(model); ok {
		return enc.(*tiktoken.Tiktoken), nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", model, ErrUnknownModel)
	}
	encoders.Store(model, enc)
	return enc, nil
}

// Count returns the number of tokens in text under the model's encoding.
func Count(text, model string) (int, error) {
	enc, err := encoderFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// Truncate returns a prefix of text whose token count does not exceed
// maxTokens. Text already within the limit is returned unchanged, so the
// operation is idempotent, and identical inputs always produce identical
// output.
func Truncate(text string, maxTokens int, model string) (string, error) {
	enc, err := encoderFor(model)
	if err != nil {
		return "", err
	}
	if maxTokens <= 0 {
		return "", nil
	}

	ids := enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text, nil
	}
	return enc.Decode(ids[:maxTokens]), nil
}

// messageCost prices one message: content, speaker name, serialized tool
// call arguments, plus framing overhead.
func messageCost(msg conversation.Message, enc *tiktoken.Tiktoken) int {
	cost := messageOverhead + len(enc.Encode(msg.Content, nil, nil))
	if msg.Name != "" {
		cost += len(enc.Encode(msg.Name, nil, nil))
	}
	for _, tc := range msg.ToolCalls {
		cost += len(enc.Encode(tc.Name, nil, nil))
		cost += len(enc.Encode(string(tc.Arguments), nil, nil))
	}
	return cost
}

// FitHistory drops messages until the history fits within maxTokens. System
// messages are always retained; non-system messages are dropped oldest
// first, and an assistant message is dropped together with the tool results
// that answer its calls so no orphan tool message survives. Relative order
// of survivors is preserved.
func FitHistory(msgs []conversation.Message, maxTokens int, model string) ([]conversation.Message, error) {
	enc, err := encoderFor(model)
	if err != nil {
		return nil, err
	}

	costs := make([]int, len(msgs))
	total := 0
	for i, msg := range msgs {
		costs[i] = messageCost(msg, enc)
		total += costs[i]
	}

	out := make([]conversation.Message, 0, len(msgs))
	if total <= maxTokens {
		return append(out, msgs...), nil
	}

	dropped := make([]bool, len(msgs))
	drop := func(i int) {
		if !dropped[i] {
			dropped[i] = true
			total -= costs[i]
		}
	}

	for i := 0; i < len(msgs) && total > maxTokens; i++ {
		if msgs[i].Role == conversation.RoleSystem || dropped[i] {
			continue
		}
		drop(i)
		if msgs[i].Role == conversation.RoleAssistant && len(msgs[i].ToolCalls) > 0 {
			ids := make(map[string]struct{}, len(msgs[i].ToolCalls))
			for _, tc := range msgs[i].ToolCalls {
				ids[tc.ID] = struct{}{}
			}
			for j := i + 1; j < len(msgs); j++ {
				if msgs[j].Role == conversation.RoleTool {
					if _, ok := ids[msgs[j].ToolCallID]; ok {
						drop(j)
					}
				}
			}
		}
	}

	for i, msg := range msgs {
		if !dropped[i] {
			out = append(out, msg)
		}
	}
	return out, nil
}
