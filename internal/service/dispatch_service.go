package service

import (
	"context"
	"errors"
	"fmt"

	"chat-cbd-go/internal/model"
	"chat-cbd-go/internal/repository"
	"chat-cbd-go/pkg/log"
	"chat-cbd-go/pkg/provider"

	"github.com/lithammer/shortuuid/v4"
)

// ProviderDALLE 是请求方用来选择 DALL-E 图像提供商的标识，
// 其余取值一律路由到 Stability。
const ProviderDALLE = "DALL-E"

// imagePlaceholder 是历史视图中替代图像消息正文的占位文本，
// 提供商永远不会收到原始图像数据。
const imagePlaceholder = "generated image"

// conversationSentinel 是前端表示"尚无会话"的哨兵值。
const conversationSentinel = "null"

// DispatchRequest 是一次消息调度的归一化输入。
type DispatchRequest struct {
	UserPrompt     model.Message
	Type           model.MessageType
	ImageSize      string
	ImageProvider  string
	ConversationID string
	UserID         string
}

// DispatchResult 携带归一化后的回复消息和本回合所属的会话 id。
type DispatchResult struct {
	Reply          model.Message
	ConversationID string
}

// DispatchService 是消息调度管线：装载或创建会话、追加入站消息、
// 调用选定的提供商、转存生成的制品、持久化整条会话并返回归一化回复。
type DispatchService interface {
	SendMessage(ctx context.Context, req DispatchRequest) (*DispatchResult, error)
}

type dispatchService struct {
	conversationRepo repository.ConversationRepository
	textProvider     provider.TextProvider
	dalleProvider    provider.ImageProvider
	stabilityClient  provider.ImageProvider
	stager           ArtifactService
}

// NewDispatchService 创建一个新的 DispatchService 实例。
func NewDispatchService(
	conversationRepo repository.ConversationRepository,
	textProvider provider.TextProvider,
	dalleProvider provider.ImageProvider,
	stabilityClient provider.ImageProvider,
	stager ArtifactService,
) DispatchService {
	return &dispatchService{
		conversationRepo: conversationRepo,
		textProvider:     textProvider,
		dalleProvider:    dalleProvider,
		stabilityClient:  stabilityClient,
		stager:           stager,
	}
}

// SendMessage 执行一次完整的调度回合。任何提供商或转存失败都会
// 中止本回合：出站消息不会被追加，会话也不会被持久化。
func (s *dispatchService) SendMessage(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	conversation, err := s.loadOrCreateConversation(ctx, req.UserID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	conversation.Messages = append(conversation.Messages, req.UserPrompt)

	var reply model.Message
	switch req.Type {
	case model.TypeText:
		reply, err = s.generateTextReply(ctx, conversation.Messages)
	case model.TypeImage:
		reply, err = s.generateImageReply(ctx, req)
	default:
		err = fmt.Errorf("unsupported message type %q", req.Type)
	}
	if err != nil {
		return nil, err
	}

	conversation.Messages = append(conversation.Messages, reply)

	// 持久化失败会中止本回合并上抛给 HTTP 调用方
	if err := s.conversationRepo.Put(ctx, req.UserID, conversation); err != nil {
		return nil, fmt.Errorf("failed to persist conversation: %w", err)
	}

	return &DispatchResult{Reply: reply, ConversationID: conversation.ID}, nil
}

// loadOrCreateConversation 按 id 装载会话；id 缺失、为哨兵值或记录
// 不存在时，合成一条带全新随机 id 的空会话。
func (s *dispatchService) loadOrCreateConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	if conversationID != "" && conversationID != conversationSentinel {
		conversation, err := s.conversationRepo.Get(ctx, userID, conversationID)
		if err == nil {
			return conversation, nil
		}
		if !errors.Is(err, repository.ErrConversationNotFound) {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
	}
	return &model.Conversation{
		ID:       shortuuid.New(),
		Messages: []model.Message{},
	}, nil
}

// generateTextReply 以完整历史视图调用文本提供商并包装回复。
func (s *dispatchService) generateTextReply(ctx context.Context, messages []model.Message) (model.Message, error) {
	text, err := s.textProvider.GenerateText(ctx, historyView(messages))
	if err != nil {
		return model.Message{}, err
	}
	return model.Message{Role: model.RoleSystem, Content: text, Type: model.TypeText}, nil
}

// generateImageReply 调用选定的图像提供商，按提供商返回的顺序逐个
// 转存生成的图像，并把持久 URL 收进出站消息。
func (s *dispatchService) generateImageReply(ctx context.Context, req DispatchRequest) (model.Message, error) {
	// 图像提供商只接收当前提示词，不接收会话历史
	payloads, err := s.selectImageProvider(req.ImageProvider).GenerateImage(ctx, req.UserPrompt.Content, req.ImageSize)
	if err != nil {
		return model.Message{}, err
	}

	urls := make([]string, 0, len(payloads))
	staged := make([]string, 0, len(payloads))
	for _, payload := range payloads {
		artifact, err := s.stager.Stage(ctx, payload)
		if err != nil {
			// 策略：同回合中已转存的制品不做补偿删除，留存为孤儿对象
			if len(staged) > 0 {
				log.Warnf("图像批次转存中断，遗留 %d 个孤儿对象: %v", len(staged), staged)
			}
			return model.Message{}, err
		}
		urls = append(urls, artifact.URL)
		staged = append(staged, artifact.ObjectName)
	}

	return model.Message{Role: model.RoleSystem, Content: "", Type: model.TypeImage, Images: urls}, nil
}

func (s *dispatchService) selectImageProvider(selector string) provider.ImageProvider {
	if selector == ProviderDALLE {
		return s.dalleProvider
	}
	return s.stabilityClient
}

// historyView 把会话消息约减为提供商可见的 {role, content} 形式，
// 图像消息的正文替换为固定占位文本。
func historyView(messages []model.Message) []provider.Message {
	view := make([]provider.Message, len(messages))
	for i, m := range messages {
		content := m.Content
		if m.Type == model.TypeImage {
			content = imagePlaceholder
		}
		view[i] = provider.Message{Role: string(m.Role), Content: content}
	}
	return view
}
