package agent

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

// Turn 对话中的一条消息；Persist 为 false 的消息只发给模型，不写入记录
type Turn struct {
	Message openai.ChatCompletionMessage
	Persist bool
}

type conversation struct {
	turns []Turn
}

func (c *conversation) add(msg openai.ChatCompletionMessage) {
	c.turns = append(c.turns, Turn{Message: msg, Persist: true})
}

// addPrivate 报告和源码只在请求中出现
func (c *conversation) addPrivate(msg openai.ChatCompletionMessage) {
	c.turns = append(c.turns, Turn{Message: msg, Persist: false})
}

func (c *conversation) messages() []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, len(c.turns))
	for i, t := range c.turns {
		msgs[i] = t.Message
	}
	return msgs
}

// transcript 持久化消息的缩进 JSON
func (c *conversation) transcript() (string, error) {
	persisted := make([]openai.ChatCompletionMessage, 0, len(c.turns))
	for _, t := range c.turns {
		if t.Persist {
			persisted = append(persisted, t.Message)
		}
	}
	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// failureTranscript 失败时覆盖整理记录
func failureTranscript(cause error) string {
	data, _ := json.MarshalIndent(map[string]string{
		"error":  cause.Error(),
		"status": "failed",
	}, "", "  ")
	return string(data)
}
