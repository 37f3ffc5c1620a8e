package ai

import (
	"strings"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/model/chat"
)

// VoiceAssistantPrompt frames every generated reply for spoken delivery.
const VoiceAssistantPrompt = `You are a helpful and friendly AI voice assistant. You excel at natural conversation and providing useful information.

Key characteristics:
- Speak naturally and conversationally, as if talking to a friend
- Keep responses concise but informative (aim for 1-3 sentences for voice)
- Be helpful, empathetic, and engaging
- When appropriate, ask follow-up questions to continue the conversation
- If you need clarification, ask for it clearly
- Avoid overly technical jargon unless specifically requested
- Remember the conversation context to provide relevant responses

You are communicating through voice, so:
- Avoid using markdown, special formatting, or symbols
- Spell out numbers and abbreviations when they would be unclear spoken
- Use natural speech patterns and contractions
- Structure your responses for easy listening`

// SummaryPrompt 总结会话使用的系统提示词。
const SummaryPrompt = "Summarize the following conversation concisely, highlighting key topics and outcomes:"

// 总结时的采样参数
const (
	summaryTemperature = 0.3
	summaryMaxTokens   = 200
)

// NoConversationSummary 会话为空时直接返回的文本。
const NoConversationSummary = "No conversation to summarize."

// transcript 把历史渲染成 "role: content" 逐行文本。
func transcript(history []chat.Message) string {
	var b strings.Builder
	for i, msg := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
	}
	return b.String()
}
