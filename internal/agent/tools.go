package agent

import (
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// WebSearchTool 模型服务端内置的联网搜索
const WebSearchTool = "$web_search"

func webSearchTool() openai.Tool {
	return openai.Tool{
		Type:     openai.ToolType("builtin_function"),
		Function: &openai.FunctionDefinition{Name: WebSearchTool},
	}
}

// resolveToolCall 内置搜索由服务端执行，本地只需原样回传参数
func resolveToolCall(call openai.ToolCall) openai.ChatCompletionMessage {
	var result interface{}
	switch call.Function.Name {
	case WebSearchTool:
		var args interface{}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			result = fmt.Sprintf("Error: invalid arguments for tool '%s': %v", call.Function.Name, err)
		} else {
			result = args
		}
	default:
		result = fmt.Sprintf("Error: unable to find tool by name '%s'", call.Function.Name)
	}

	content, err := json.Marshal(result)
	if err != nil {
		content = []byte(`"Error: unable to encode tool result"`)
	}

	return openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		ToolCallID: call.ID,
		Name:       call.Function.Name,
		Content:    string(content),
	}
}
