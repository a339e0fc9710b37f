package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/Enkidu/internal/dimension"
	"github.com/BTreeMap/Enkidu/internal/models"
	"github.com/BTreeMap/Enkidu/internal/store"
)

// Dependencies are the collaborators of a ConversationFlow.
type Dependencies struct {
	Store      store.Store
	Dedup      store.DedupRepo  // optional; skips redelivered webhooks when set
	Classifier Classifier       // used once every dimension was introduced
	Composer   Composer         // required
	Summarizer Summarizer       // optional
	Messaging  MessagingService // required for HandleAndDeliver and RecordOutbound
	Settings   Settings
}

// TurnResult describes a handled inbound turn.
type TurnResult struct {
	UserID       string
	Dimension    dimension.ID
	Introduced   bool
	Reply        string // composed reply without the follow-up question
	NextQuestion string // scripted follow-up, empty when exhausted
	Message      string // text to deliver on text channels
	Duplicate    bool   // the message id was already handled; nothing else is set
}

// ConversationFlow runs one inbound turn through the state machine.
type ConversationFlow struct {
	contexts   *ContextStore
	limiter    *RateLimiter
	selector   *DimensionSelector
	tracker    *QuestionTracker
	memory     *MemoryManager
	metrics    *MetricsEngine
	composer   Composer
	dedup      store.DedupRepo
	msgService MessagingService
	now        clock
}

// NewConversationFlow wires the components of the state machine.
func NewConversationFlow(deps Dependencies) *ConversationFlow {
	s := deps.Settings.withDefaults()
	slog.Debug("ConversationFlow.NewConversationFlow: creating flow",
		"hasClassifier", deps.Classifier != nil, "hasSummarizer", deps.Summarizer != nil,
		"hasMessaging", deps.Messaging != nil, "hasDedup", deps.Dedup != nil,
		"recentHistoryLimit", s.RecentHistoryLimit, "maxRequests", s.MaxRequests, "rateWindow", s.RateWindow)
	return &ConversationFlow{
		contexts:   NewContextStore(deps.Store, s.MinDepth, s.MaxDepth),
		limiter:    NewRateLimiter(s.MaxRequests, s.RateWindow),
		selector:   NewDimensionSelector(deps.Classifier, s.ClassifyAttempts),
		tracker:    NewQuestionTracker(),
		memory:     NewMemoryManager(deps.Summarizer, s.RecentHistoryLimit, s.MaxHistoryLength),
		metrics:    NewMetricsEngine(s.MinDepth, s.MaxDepth),
		composer:   deps.Composer,
		dedup:      deps.Dedup,
		msgService: deps.Messaging,
		now:        time.Now,
	}
}

// SetClock replaces the time source used for timestamps and admission.
func (f *ConversationFlow) SetClock(now func() time.Time) {
	f.now = now
	f.contexts.now = now
}

// maxTurnAttempts bounds how often a turn is replayed after losing a version race.
const maxTurnAttempts = 3

// HandleTurn processes one inbound message and persists the resulting context. Nothing is
// persisted when the turn is rate limited or any step fails; a failed turn also releases its
// message id so a redelivery is handled again. A turn that loses a concurrent save is replayed
// against the reloaded context. The reply itself is not added to History: only user turns
// and operator check-ins are recorded there.
func (f *ConversationFlow) HandleTurn(ctx context.Context, in models.InboundMessage) (TurnResult, error) {
	if err := in.Validate(); err != nil {
		return TurnResult{}, fmt.Errorf("invalid inbound message: %w", err)
	}
	if f.composer == nil {
		return TurnResult{}, errors.New("no composer configured")
	}
	userID := in.From
	tracked := in.MessageID != "" && f.dedup != nil

	if tracked {
		first, err := f.dedup.RecordInbound(ctx, in.MessageID, userID)
		if err != nil {
			slog.Error("ConversationFlow.HandleTurn: dedup record failed", "userID", userID, "messageID", in.MessageID, "error", err)
			return TurnResult{}, fmt.Errorf("failed to record inbound message: %w", err)
		}
		if !first {
			slog.Info("ConversationFlow.HandleTurn: duplicate message ignored", "userID", userID, "messageID", in.MessageID)
			return TurnResult{UserID: userID, Duplicate: true}, nil
		}
	}

	var (
		res TurnResult
		err error
	)
	for attempt := 1; attempt <= maxTurnAttempts; attempt++ {
		res, err = f.runTurn(ctx, in)
		if !errors.Is(err, store.ErrVersionConflict) || attempt == maxTurnAttempts || ctx.Err() != nil {
			break
		}
		slog.Warn("ConversationFlow.HandleTurn: concurrent update, replaying turn", "userID", userID, "attempt", attempt)
	}

	if err != nil {
		if tracked {
			if relErr := f.dedup.ReleaseInbound(context.WithoutCancel(ctx), in.MessageID); relErr != nil {
				slog.Warn("ConversationFlow.HandleTurn: release message id failed", "messageID", in.MessageID, "error", relErr)
			}
		}
		return TurnResult{}, err
	}
	if tracked {
		if err := f.dedup.MarkProcessed(ctx, in.MessageID); err != nil {
			slog.Warn("ConversationFlow.HandleTurn: mark processed failed", "messageID", in.MessageID, "error", err)
		}
	}
	return res, nil
}

// runTurn loads the context, applies one turn and saves it.
func (f *ConversationFlow) runTurn(ctx context.Context, in models.InboundMessage) (TurnResult, error) {
	userID := in.From
	uc, err := f.contexts.Load(ctx, userID)
	if err != nil {
		return TurnResult{}, err
	}

	now := f.now()
	if !f.limiter.Admit(uc, now) {
		slog.Info("ConversationFlow.runTurn: rate limited", "userID", userID)
		return TurnResult{}, ErrRateLimited
	}

	sel, err := f.selector.NextDimension(ctx, uc, in.Body)
	if err != nil {
		slog.Error("ConversationFlow.runTurn: dimension selection failed", "userID", userID, "error", err)
		return TurnResult{}, err
	}

	next, _, err := f.tracker.RecordAnswerAndAdvance(uc, sel.Dimension, in.Body, now)
	if err != nil {
		slog.Error("ConversationFlow.runTurn: question tracking failed", "userID", userID, "dimension", sel.Dimension, "error", err)
		return TurnResult{}, err
	}

	prompt := buildReplyPrompt(uc, in, sel, next)
	reply, err := f.composer.ComposeReply(ctx, prompt)
	if err != nil {
		slog.Error("ConversationFlow.runTurn: reply composition failed", "userID", userID, "dimension", sel.Dimension, "error", err)
		return TurnResult{}, fmt.Errorf("failed to compose reply: %w", err)
	}
	reply = strings.TrimSpace(reply)

	f.memory.AppendTurn(ctx, uc, NewTurn(in.Body, models.SenderUser, sel.Dimension, now))
	f.metrics.Apply(uc, in.Body)

	if err := f.contexts.Save(ctx, uc); err != nil {
		return TurnResult{}, err
	}

	slog.Info("ConversationFlow.runTurn: turn handled", "userID", userID, "dimension", sel.Dimension,
		"introduced", sel.Introduced, "hasNextQuestion", next != "", "tier", uc.Tier, "depth", uc.Depth, "streak", uc.Streak)
	return TurnResult{
		UserID:       userID,
		Dimension:    sel.Dimension,
		Introduced:   sel.Introduced,
		Reply:        reply,
		NextQuestion: next,
		Message:      withNextQuestion(reply, next),
	}, nil
}

// HandleAndDeliver handles a text-channel turn and sends the reply to the sender.
// The context is persisted before delivery, so a delivery failure keeps the progress.
func (f *ConversationFlow) HandleAndDeliver(ctx context.Context, in models.InboundMessage) (TurnResult, error) {
	res, err := f.HandleTurn(ctx, in)
	if err != nil || res.Duplicate {
		return res, err
	}
	if err := f.deliver(ctx, res.UserID, res.Message); err != nil {
		return res, err
	}
	return res, nil
}

// RecordOutbound appends an operator check-in as an assistant turn, persists it and sends it.
func (f *ConversationFlow) RecordOutbound(ctx context.Context, userID, body string) (models.Turn, error) {
	if err := (models.OutboundRequest{Body: body}).Validate(); err != nil {
		return models.Turn{}, fmt.Errorf("invalid outbound message: %w", err)
	}
	uc, err := f.contexts.Load(ctx, userID)
	if err != nil {
		return models.Turn{}, err
	}

	turn := NewTurn(body, models.SenderAssistant, "", f.now())
	f.memory.AppendTurn(ctx, uc, turn)
	f.metrics.Apply(uc, body)
	if err := f.contexts.Save(ctx, uc); err != nil {
		return models.Turn{}, err
	}
	slog.Info("ConversationFlow.RecordOutbound: check-in recorded", "userID", userID, "turnID", turn.ID)

	if err := f.deliver(ctx, userID, body); err != nil {
		return turn, err
	}
	return turn, nil
}

// LookupContext returns the stored context of userID; found is false for unknown users.
func (f *ConversationFlow) LookupContext(ctx context.Context, userID string) (*models.UserContext, bool, error) {
	return f.contexts.Lookup(ctx, userID)
}

func (f *ConversationFlow) deliver(ctx context.Context, to, message string) error {
	if f.msgService == nil {
		return errors.New("no messaging service configured")
	}
	if err := f.msgService.SendMessage(ctx, to, message); err != nil {
		slog.Error("ConversationFlow.deliver: delivery failed", "userID", to, "error", err)
		return fmt.Errorf("failed to deliver reply to %s: %w", to, err)
	}
	slog.Debug("ConversationFlow.deliver: delivered", "userID", to, "length", len(message))
	return nil
}
