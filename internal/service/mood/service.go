package mood

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/zhouzirui/serenity/backend/internal/analysis/mood"
	"github.com/zhouzirui/serenity/backend/internal/model/chat"
)

// Config 控制情绪分类服务的行为。
type Config struct {
	Enabled bool
	// HistoryLimit counts individual messages, not exchanges.
	HistoryLimit int
	// Timeout bounds one classification call; zero means no extra bound.
	Timeout time.Duration
}

// Result 表示一次情绪分类的结果。
type Result struct {
	Label  analysis.Label
	Source string
}

const (
	SourceModel    = "model"
	SourceKeywords = "keywords"
)

// Service 使用大模型输出单个情绪标签，并在失败时回退到关键词规则。
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     func(text string) analysis.Label
	historyLimit int
	timeout      time.Duration
}

// NewService 创建情绪分类服务。chatModel 可重用现有的大模型实例。
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config) (*Service, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 4
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		fallback:     analysis.Classify,
		historyLimit: historyLimit,
		timeout:      cfg.Timeout,
	}

	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classificationPrompt),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile mood classifier chain: %w", err)
	}

	svc.classifier = runnable
	return svc, nil
}

// Enabled 返回模型分类是否启用。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Classify labels message. When keywords find a label that ranks above the
// model's answer, the keyword label wins.
func (s *Service) Classify(ctx context.Context, history []chat.HistoryEntry, message string) Result {
	keywords := analysis.Classify
	if s != nil && s.fallback != nil {
		keywords = s.fallback
	}
	if !s.Enabled() {
		return Result{Label: keywords(message), Source: SourceKeywords}
	}

	input := map[string]any{
		"history": recentMessages(history, s.historyLimit),
		"query":   strings.TrimSpace(message),
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	msg, err := s.classifier.Invoke(ctx, input, compose.WithChatModelOption(
		model.WithTemperature(0.01),
		model.WithMaxTokens(15),
	))
	if err != nil {
		log.Printf("[mood] classifier invoke failed, use fallback: %v", err)
		return Result{Label: keywords(message), Source: SourceKeywords}
	}
	if msg == nil {
		return Result{Label: keywords(message), Source: SourceKeywords}
	}

	label, ok := analysis.ParseTag(msg.Content)
	if !ok {
		log.Printf("[mood] unparseable classifier output %q, use fallback", msg.Content)
		return Result{Label: keywords(message), Source: SourceKeywords}
	}

	if kw := keywords(message); analysis.Stronger(label, kw) != label {
		return Result{Label: kw, Source: SourceKeywords}
	}
	return Result{Label: label, Source: SourceModel}
}

// recentMessages 取最近 limit 条消息作为分类上下文。
func recentMessages(history []chat.HistoryEntry, limit int) []*schema.Message {
	var messages []*schema.Message
	for _, entry := range history {
		if user := strings.TrimSpace(entry.User); user != "" {
			messages = append(messages, schema.UserMessage(user))
		}
		if bot := strings.TrimSpace(entry.Bot); bot != "" {
			messages = append(messages, schema.AssistantMessage(bot, nil))
		}
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages
}

const classificationPrompt = "You are a classification expert. Analyze the user's message and respond with ONLY ONE of the following tags that best fits the user's current emotion. Do not add any other text. " +
	"The available tags are: [mood: happy], [mood: neutral], [mood: sad], [mood: anxious], [mood: angry], [mood: calm], [mood: concerned], [intent: seeking_community], [intent: serious_distress]." +
	"\n\nHere are some examples:\n" +
	"User: I'm so happy today, everything is going great!\nAssistant: [mood: happy]\n" +
	"User: what's up\nAssistant: [mood: neutral]\n" +
	"User: I've had a headache and fever for two days\nAssistant: [mood: concerned]\n" +
	"Your response must strictly contain ONLY the tag, e.g., [mood: happy]."
