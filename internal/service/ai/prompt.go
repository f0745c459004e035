package ai

import (
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/serenity/backend/internal/analysis/mood"
	"github.com/zhouzirui/serenity/backend/internal/model/chat"
)

// SystemPrompt 定义 Serenity 的角色设定。
const SystemPrompt = "You are Serenity, a compassionate and supportive mental health chatbot. " +
	"Never refer to yourself as Aura or any other name. You are NOT a therapist. " +
	"DO NOT provide medical advice. Keep your responses concise, warm, and non-judgemental. " +
	"Use less than 50 words."

const personaPrefix = "serenity:"

// buildSystemPrompt appends mood guidance to the base persona prompt.
func buildSystemPrompt(label mood.Label) string {
	desc := describeMood(label)
	if desc == "" {
		return SystemPrompt
	}

	var builder strings.Builder
	builder.WriteString(SystemPrompt)
	builder.WriteString("\n\nThe user's latest message suggests: ")
	builder.WriteString(desc)
	return builder.String()
}

func describeMood(label mood.Label) string {
	switch label {
	case mood.Happy:
		return "they feel positive. Share in it gently."
	case mood.Calm:
		return "they feel settled. Keep the tone easy and encouraging."
	case mood.Sad:
		return "they feel low. Acknowledge the feeling before anything else."
	case mood.Anxious:
		return "they feel stressed or anxious. Be steady and grounding."
	case mood.Angry:
		return "they feel frustrated. Stay calm and validate without judging."
	case mood.Concerned:
		return "they mention physical symptoms. Be caring and suggest seeing a doctor if it persists."
	case mood.Distress:
		return "they may be in crisis. Be calm, take it seriously, and encourage contacting emergency services or a crisis line."
	default:
		return ""
	}
}

// buildHistoryMessages 将最近的若干轮对话转换为模型消息。
func buildHistoryMessages(history []chat.HistoryEntry) []*schema.Message {
	history = chat.TrimEntries(history, chat.HistoryLimit)
	if len(history) == 0 {
		return nil
	}

	messages := make([]*schema.Message, 0, len(history)*2)
	for _, entry := range history {
		if user := strings.TrimSpace(entry.User); user != "" {
			messages = append(messages, schema.UserMessage(user))
		}
		if bot := strings.TrimSpace(entry.Bot); bot != "" {
			messages = append(messages, schema.AssistantMessage(bot, nil))
		}
	}
	return messages
}

// CleanReply trims model output and drops a leading persona label.
func CleanReply(raw string) string {
	reply := strings.TrimSpace(raw)
	if len(reply) >= len(personaPrefix) && strings.EqualFold(reply[:len(personaPrefix)], personaPrefix) {
		reply = strings.TrimSpace(reply[len(personaPrefix):])
	}
	return reply
}
