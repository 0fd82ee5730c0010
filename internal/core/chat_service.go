package core

import (
	"context"
	"strings"

	"moneyrag.io/backend/internal/apperr"
	"moneyrag.io/backend/internal/logger"
	"moneyrag.io/backend/internal/store"
)

const (
	historyForPrompt    = 10
	DefaultHistoryLimit = 100

	engineFailureReply = "I'm sorry, I encountered an error while processing your request."
)

type ChatService struct {
	messages store.MessageStore
	configs  *ConfigService
}

func NewChatService(messages store.MessageStore, configs *ConfigService) *ChatService {
	return &ChatService{messages: messages, configs: configs}
}

// PostMessage stores the user's question, asks the tenant's engine and stores its reply
func (s *ChatService) PostMessage(ctx context.Context, tenantID, content string) (*store.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.New(apperr.KindValidation, "message content is required")
	}

	eng, err := s.configs.Engine(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	history, err := s.messages.ListMessages(ctx, tenantID, historyForPrompt)
	if err != nil {
		logger.C(ctx).Warn().Err(err).Msg("failed to load chat history, proceeding without it")
		history = nil
	}

	userMsg := store.Message{TenantID: tenantID, Sender: store.SenderUser, Content: content}
	if err := s.messages.CreateMessage(ctx, &userMsg); err != nil {
		return nil, classifyStore(err, "failed to store user message")
	}

	reply, err := eng.Ask(ctx, content, history)
	if err != nil {
		logger.C(ctx).Error().Err(err).Msg("error generating model response")
		reply = engineFailureReply
	}

	modelMsg := store.Message{TenantID: tenantID, Sender: store.SenderModel, Content: reply}
	if err := s.messages.CreateMessage(ctx, &modelMsg); err != nil {
		return nil, classifyStore(err, "failed to store model message")
	}
	return &modelMsg, nil
}

func (s *ChatService) History(ctx context.Context, tenantID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	msgs, err := s.messages.ListMessages(ctx, tenantID, limit)
	if err != nil {
		return nil, classifyStore(err, "failed to load chat history")
	}
	return msgs, nil
}
