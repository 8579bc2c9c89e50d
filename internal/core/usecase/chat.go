package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/research-assistant/internal/core/domain"
	"github.com/kirillkom/research-assistant/internal/core/ports"
)

type ChatLimits struct {
	TopK            int
	MaxContextChars int
	HistoryTurns    int
	GenerateTimeout time.Duration
}

// ChatObserver receives per-request retrieval and generation outcomes.
type ChatObserver interface {
	ObserveRetrieval(chunks int, degraded bool)
	ObserveGeneration(elapsed time.Duration, failed bool)
}

type nopChatObserver struct{}

func (nopChatObserver) ObserveRetrieval(int, bool)           {}
func (nopChatObserver) ObserveGeneration(time.Duration, bool) {}

type documentLookup interface {
	GetDocument(ctx context.Context, userID, documentID string) (*domain.Document, error)
}

type ChatUseCase struct {
	retriever ports.Retriever
	assembler *ContextAssembler
	generator ports.Generator
	documents documentLookup
	sessions  ports.ChatSessionStore
	observer  ChatObserver
	limits    ChatLimits
	logger    *slog.Logger
	now       func() time.Time
}

func NewChatUseCase(
	retriever ports.Retriever,
	generator ports.Generator,
	documents documentLookup,
	sessions ports.ChatSessionStore,
	observer ChatObserver,
	limits ChatLimits,
) *ChatUseCase {
	if limits.TopK <= 0 {
		limits.TopK = domain.DefaultTopK
	}
	if limits.MaxContextChars <= 0 {
		limits.MaxContextChars = 12000
	}
	if limits.HistoryTurns <= 0 {
		limits.HistoryTurns = 10
	}
	if observer == nil {
		observer = nopChatObserver{}
	}
	return &ChatUseCase{
		retriever: retriever,
		assembler: NewContextAssembler(),
		generator: generator,
		documents: documents,
		sessions:  sessions,
		observer:  observer,
		limits:    limits,
		logger:    slog.Default().With("component", "chat"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type chatStage int

const (
	stageReceived chatStage = iota
	stageRetrieving
	stageAssembling
	stageGenerating
	stageAttributing
	stagePersisting
	stagePersisted
	stageFailed
)

func (s chatStage) String() string {
	switch s {
	case stageReceived:
		return "received"
	case stageRetrieving:
		return "retrieving"
	case stageAssembling:
		return "assembling"
	case stageGenerating:
		return "generating"
	case stageAttributing:
		return "attributing"
	case stagePersisting:
		return "persisting"
	case stagePersisted:
		return "persisted"
	case stageFailed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

func (s chatStage) terminal() bool {
	return s == stagePersisted || s == stageFailed
}

type outcomeKind int

const (
	outcomeAdvance outcomeKind = iota
	outcomeDegrade
	outcomeFail
)

// stepOutcome is what every stage hands back to the driver loop.
type stepOutcome struct {
	kind outcomeKind
	next chatStage
	err  error
}

func advance(next chatStage) stepOutcome { return stepOutcome{kind: outcomeAdvance, next: next} }

func degrade(next chatStage, err error) stepOutcome {
	return stepOutcome{kind: outcomeDegrade, next: next, err: err}
}

func fail(err error) stepOutcome { return stepOutcome{kind: outcomeFail, next: stageFailed, err: err} }

// chatRun carries one request through the stages.
type chatRun struct {
	userID    string
	message   string
	history   []domain.ChatTurn
	retrieved []domain.ScoredChunk
	assembled domain.AssembledContext
	answer    string
	sources   []domain.Source
	failedAt  chatStage
	err       error
}

// ProcessMessage answers one message. Retrieval problems degrade to an
// ungrounded answer and generation failures yield the apology reply; the
// only errors returned are invalid input and caller cancellation.
func (uc *ChatUseCase) ProcessMessage(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error) {
	run := &chatRun{
		userID:  strings.TrimSpace(req.UserID),
		message: req.Message,
		history: req.History,
	}

	stage := stageReceived
	for !stage.terminal() {
		out := uc.step(ctx, stage, run)
		switch out.kind {
		case outcomeDegrade:
			uc.logger.Warn("chat_step_degraded", "stage", stage.String(), "user_id", run.userID, "error", out.err)
		case outcomeFail:
			run.failedAt = stage
			run.err = out.err
		}
		stage = out.next
	}

	if stage == stageFailed {
		return uc.failedReply(run)
	}
	return &domain.ChatReply{Message: run.answer, Sources: run.sources}, nil
}

func (uc *ChatUseCase) step(ctx context.Context, stage chatStage, run *chatRun) stepOutcome {
	switch stage {
	case stageReceived:
		return uc.receive(ctx, run)
	case stageRetrieving:
		return uc.retrieve(ctx, run)
	case stageAssembling:
		return uc.assemble(run)
	case stageGenerating:
		return uc.generate(ctx, run)
	case stageAttributing:
		return uc.attribute(ctx, run)
	case stagePersisting:
		return uc.persist(ctx, run)
	default:
		return fail(fmt.Errorf("unexpected chat stage %s", stage))
	}
}

func (uc *ChatUseCase) receive(ctx context.Context, run *chatRun) stepOutcome {
	if run.userID == "" {
		return fail(domain.WrapError(domain.ErrInvalidInput, "process message", errors.New("user id is required")))
	}
	if strings.TrimSpace(run.message) == "" {
		return fail(domain.WrapError(domain.ErrInvalidInput, "process message", errors.New("message is required")))
	}
	if run.history != nil {
		return advance(stageRetrieving)
	}

	stored, err := uc.sessions.RecentTurns(ctx, run.userID, uc.limits.HistoryTurns)
	if err != nil {
		run.history = nil
		return degrade(stageRetrieving, fmt.Errorf("load chat history: %w", err))
	}
	run.history = stored
	return advance(stageRetrieving)
}

func (uc *ChatUseCase) retrieve(ctx context.Context, run *chatRun) stepOutcome {
	chunks, err := uc.retriever.Query(ctx, run.userID, run.message, uc.limits.TopK)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(domain.WrapError(domain.ErrCanceled, "retrieve context", ctxErr))
		}
		uc.observer.ObserveRetrieval(0, true)
		run.retrieved = nil
		return degrade(stageAssembling, err)
	}
	uc.observer.ObserveRetrieval(len(chunks), len(chunks) == 0)
	run.retrieved = chunks
	return advance(stageAssembling)
}

func (uc *ChatUseCase) assemble(run *chatRun) stepOutcome {
	run.assembled = uc.assembler.Assemble(run.retrieved, run.history, uc.limits.MaxContextChars)
	if strings.TrimSpace(run.assembled.ContextBlock) == "" {
		return fail(errors.New("assembled context is empty"))
	}
	return advance(stageGenerating)
}

func (uc *ChatUseCase) generate(ctx context.Context, run *chatRun) stepOutcome {
	genCtx := ctx
	if uc.limits.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, uc.limits.GenerateTimeout)
		defer cancel()
	}

	started := time.Now()
	answer, err := uc.generator.Generate(genCtx, BuildPrompt(run.message, run.assembled))
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errors.New("empty completion")
	}
	uc.observer.ObserveGeneration(time.Since(started), err != nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(domain.WrapError(domain.ErrCanceled, "generate answer", ctxErr))
		}
		return fail(domain.WrapError(domain.ErrGenerationUnavailable, "generate answer", err))
	}
	run.answer = strings.TrimSpace(answer)
	return advance(stageAttributing)
}

// attribute lists each owning document once, in relevance order. Chunks of
// documents deleted since retrieval are skipped.
func (uc *ChatUseCase) attribute(ctx context.Context, run *chatRun) stepOutcome {
	seen := make(map[string]struct{}, len(run.assembled.Included))
	sources := make([]domain.Source, 0, len(run.assembled.Included))
	for _, sc := range run.assembled.Included {
		docID := sc.Chunk.DocumentID
		if _, ok := seen[docID]; ok {
			continue
		}
		seen[docID] = struct{}{}

		doc, err := uc.documents.GetDocument(ctx, run.userID, docID)
		if err != nil {
			if !domain.IsKind(err, domain.ErrDocumentNotFound) {
				uc.logger.Warn("chat_source_lookup_failed", "user_id", run.userID, "document_id", docID, "error", err)
			}
			continue
		}
		sources = append(sources, domain.Source{
			Title:      doc.Metadata.Title,
			Authors:    doc.Metadata.Authors,
			Year:       doc.Metadata.Year(),
			DocumentID: doc.ID,
		})
	}
	run.sources = sources
	return advance(stagePersisting)
}

// persist stores the user turn and the assistant turn as one pair. A
// failure is logged and the answer is still returned.
func (uc *ChatUseCase) persist(ctx context.Context, run *chatRun) stepOutcome {
	now := uc.now()
	userTurn := domain.ChatTurn{
		UserID:    run.userID,
		Role:      domain.RoleUser,
		Content:   run.message,
		Timestamp: now,
	}
	assistantTurn := domain.ChatTurn{
		UserID:    run.userID,
		Role:      domain.RoleAssistant,
		Content:   run.answer,
		Timestamp: now,
		Sources:   run.sources,
	}
	if err := uc.sessions.AppendTurns(context.WithoutCancel(ctx), run.userID, userTurn, assistantTurn); err != nil {
		return degrade(stagePersisted, domain.WrapError(domain.ErrStorageFailure, "append chat turns", err))
	}
	return advance(stagePersisted)
}

func (uc *ChatUseCase) failedReply(run *chatRun) (*domain.ChatReply, error) {
	switch {
	case domain.IsKind(run.err, domain.ErrInvalidInput), domain.IsKind(run.err, domain.ErrCanceled):
		return nil, run.err
	default:
		uc.logger.Error("chat_failed", "stage", run.failedAt.String(), "user_id", run.userID, "error", run.err)
		return &domain.ChatReply{Message: domain.ApologyMessage, Sources: []domain.Source{}}, nil
	}
}

// History returns the stored session, oldest first.
func (uc *ChatUseCase) History(ctx context.Context, userID string) ([]domain.ChatTurn, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chat history", errors.New("user id is required"))
	}
	turns, err := uc.sessions.RecentTurns(ctx, userID, 0)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorageFailure, "chat history", err)
	}
	return turns, nil
}
