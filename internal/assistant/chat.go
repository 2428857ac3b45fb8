package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/internal/store"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

var assistantTracer = otel.Tracer("medicare.internal.assistant")

const (
	// OfflineMessage is returned when no answering provider is configured.
	OfflineMessage = "I am currently offline or not configured correctly. Please contact support."
	// ApologyMessage is returned when every provider failed.
	ApologyMessage = "I'm having trouble connecting right now. Please try again later."
)

const defaultAnswerTimeout = 30 * time.Second

// ErrMessageRequired is returned for an empty question.
var ErrMessageRequired = errors.New("assistant: message is required")

// Background runs fire-and-forget side effects.
type Background interface {
	Submit(name string, fn func(context.Context) error) error
}

// ChatConfig wires the chat service.
type ChatConfig struct {
	Store      store.Store
	Assembler  *Assembler
	Answerer   Answerer
	Background Background
	Timeout    time.Duration
	Logger     *logging.Logger
	Now        func() time.Time
}

// ChatService answers questions and keeps each account's chat history.
type ChatService struct {
	store      store.Store
	assembler  *Assembler
	answerer   Answerer
	background Background
	timeout    time.Duration
	logger     *logging.Logger
	now        func() time.Time
}

func NewChatService(cfg ChatConfig) *ChatService {
	if cfg.Store == nil {
		panic("assistant: store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Assembler == nil {
		cfg.Assembler = NewAssembler(cfg.Store, time.UTC, cfg.Logger)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAnswerTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ChatService{
		store:      cfg.Store,
		assembler:  cfg.Assembler,
		answerer:   cfg.Answerer,
		background: cfg.Background,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger.Component("assistant"),
		now:        cfg.Now,
	}
}

// Ask answers message for actor. Provider failures become ApologyMessage,
// so the only error is an empty message. Both turns are saved in the background.
func (s *ChatService) Ask(ctx context.Context, actor accounts.Actor, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrMessageRequired
	}
	ctx, span := assistantTracer.Start(ctx, "assistant.ask")
	defer span.End()
	span.SetAttributes(attribute.String("medicare.actor_role", string(actor.Role)))

	asked := s.now().UTC()
	reply := s.answer(ctx, actor, message)
	s.saveTurns(actor.ID, message, reply, asked)
	return reply, nil
}

func (s *ChatService) answer(ctx context.Context, actor accounts.Actor, message string) string {
	if s.answerer == nil {
		return OfflineMessage
	}
	screen := ScreenQuestion(message)
	if screen.Blocked {
		s.logger.Warn("question blocked by prompt guard", "user_id", actor.ID, "reasons", screen.Reasons, "score", screen.Score)
		return GuardReply
	}

	var patientID string
	if actor.Role == accounts.RolePatient {
		patientID = actor.ID
	}
	contextText := s.promptContext(ctx, patientID)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	reply, err := s.answerer.Answer(ctx, screen.Sanitized, contextText)
	if err != nil {
		s.logger.Error("assistant answer failed", "user_id", actor.ID, "provider", s.answerer.Name(), "error", err)
		return ApologyMessage
	}
	return reply
}

func (s *ChatService) promptContext(ctx context.Context, patientID string) string {
	var b strings.Builder
	b.WriteString("Here is the complete list of available doctors and their details:\n---\n")
	doctors, err := s.store.ListDoctors(ctx, store.DoctorFilter{})
	if err != nil {
		s.logger.Warn("doctor roster unavailable", "error", err)
	}
	b.WriteString(RosterText(doctors))
	b.WriteString("\n---\n\n")
	b.WriteString(s.assembler.Build(ctx, patientID, s.now()))
	return b.String()
}

func (s *ChatService) saveTurns(userID, question, reply string, asked time.Time) {
	turns := []store.ChatMessage{
		{Role: store.ChatRoleUser, Text: question, Timestamp: asked},
		{Role: store.ChatRoleBot, Text: reply, Timestamp: s.now().UTC()},
	}
	save := func(ctx context.Context) error {
		if err := s.store.AppendChat(ctx, userID, turns...); err != nil {
			return fmt.Errorf("append chat: %w", err)
		}
		return nil
	}
	if s.background == nil {
		if err := save(context.Background()); err != nil {
			s.logger.Warn("chat history not saved", "user_id", userID, "error", err)
		}
		return
	}
	if err := s.background.Submit("chat_history", save); err != nil {
		s.logger.Warn("chat history not queued", "user_id", userID, "error", err)
	}
}

// History returns the saved conversation of userID, oldest first.
func (s *ChatService) History(ctx context.Context, userID string) ([]store.ChatMessage, error) {
	chat, err := s.store.GetChat(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return []store.ChatMessage{}, nil
		}
		return nil, fmt.Errorf("assistant: history: %w", err)
	}
	if chat.Messages == nil {
		return []store.ChatMessage{}, nil
	}
	return chat.Messages, nil
}
