package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/BTreeMap/MailPipe/internal/instrumentation"
	"github.com/BTreeMap/MailPipe/internal/logging"
	"github.com/BTreeMap/MailPipe/internal/models"
	"github.com/BTreeMap/MailPipe/internal/util"
)

// Message shown when a send request ends without any matched recipient.
const noRecipientsMessage = "I couldn't match anyone in your contacts for this request, so nothing was sent."

const cancelledMessage = "Cancelled. No emails were sent."

// Opts configures an Orchestrator.
type Opts struct {
	Config   Config
	Metrics  *instrumentation.Metrics
	Tracer   trace.Tracer
	Receipts ReceiptRecorder
	Clock    func() time.Time
}

// Option defines a configuration option for the Orchestrator.
type Option func(*Opts)

// WithConfig sets stage settings.
func WithConfig(cfg Config) Option {
	return func(o *Opts) { o.Config = cfg }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithTracer sets the tracer used for turn and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Opts) { o.Tracer = t }
}

// WithReceiptStore records a delivery receipt for every dispatched email.
func WithReceiptStore(r ReceiptRecorder) Option {
	return func(o *Opts) { o.Receipts = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Orchestrator runs one turn of the email agent against a thread.
type Orchestrator struct {
	state    StateManager
	contacts ContactSource
	mail     MailGateway

	detector   ActionDetector
	extractor  *IntentExtractor
	gate       CompletenessGate
	composer   *Composer
	approval   ApprovalGate
	dispatcher *Dispatcher
	summarizer *Summarizer

	cfg     Config
	metrics *instrumentation.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewOrchestrator wires the stages around the given gateways.
func NewOrchestrator(state StateManager, llm LLM, contacts ContactSource, mail MailGateway, opts ...Option) *Orchestrator {
	o := Opts{Config: DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := o.Config.withDefaults()
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("flow")
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	dispatcher := NewDispatcher(mail, o.Receipts, o.Metrics, cfg.DispatchConcurrency)
	dispatcher.now = o.Clock
	return &Orchestrator{
		state:      state,
		contacts:   contacts,
		mail:       mail,
		detector:   NewActionDetector(cfg.SendKeywords, cfg.SummarizeKeywords),
		extractor:  NewIntentExtractor(llm, cfg.DefaultSubject),
		gate:       CompletenessGate{MaxRounds: cfg.MaxClarificationRounds},
		composer:   NewComposer(llm, cfg.ComposeConcurrency, cfg.DefaultSubject),
		approval:   NewApprovalGate(cfg.ApprovalWords, cfg.CancelWords),
		dispatcher: dispatcher,
		summarizer: NewSummarizer(llm, cfg.DigestLimit, cfg.PreviewRunes, cfg.FallbackCount),
		cfg:        cfg,
		metrics:    o.Metrics,
		tracer:     o.Tracer,
		now:        o.Clock,
	}
}

// ProcessTurn applies one user turn to its thread and returns the resulting
// state. On error the stored state is left unchanged.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req models.TurnRequest) (models.AgentState, error) {
	start := o.now()
	req.Normalize()
	if err := req.Validate(); err != nil {
		return models.AgentState{}, err
	}
	threadID := util.ResolveThreadID(req.ThreadID)

	ctx, span := o.tracer.Start(ctx, "Orchestrator.ProcessTurn", trace.WithAttributes(
		attribute.String(logging.KeyThread, threadID),
		attribute.String("action", string(req.Action)),
	))
	defer span.End()

	unlock := o.state.Lock(threadID)
	defer unlock()

	state, err := o.state.Load(ctx, threadID)
	if err != nil {
		return o.fail(ctx, span, state, start, fmt.Errorf("failed to load thread: %w", err))
	}
	if state.Stage.IsTerminal() {
		slog.Debug("Orchestrator.ProcessTurn: new request on finished thread", logging.KeyThread, threadID, "previous_stage", state.Stage)
		state = state.ResetForNewRequest()
	}
	state = state.WithTurn(models.RoleUser, models.TurnKindMessage, req.Message, o.now())
	state.UserInput = req.Message

	next, err := o.run(ctx, state, req)
	if err != nil {
		return o.fail(ctx, span, state, start, err)
	}
	if err := o.state.Save(ctx, next); err != nil {
		return o.fail(ctx, span, state, start, fmt.Errorf("failed to save thread: %w", err))
	}

	status := models.ResponseFromState(next).Status
	span.SetAttributes(attribute.String(logging.KeyStage, string(next.Stage)), attribute.String("status", string(status)))
	o.metrics.RecordTurn(ctx, string(next.ActionType), string(status), o.now().Sub(start))
	slog.Info("Orchestrator.ProcessTurn: turn complete", logging.KeyThread, threadID,
		logging.KeyStage, next.Stage, "action_type", next.ActionType, "status", status)
	return next, nil
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, s models.AgentState, start time.Time, err error) (models.AgentState, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	o.metrics.RecordTurn(ctx, string(s.ActionType), string(models.TurnStatusError), o.now().Sub(start))
	slog.Error("Orchestrator.ProcessTurn: turn failed", logging.KeyThread, s.ThreadID, logging.KeyStage, s.Stage, logging.Err(err))
	return models.AgentState{}, err
}

func (o *Orchestrator) run(ctx context.Context, s models.AgentState, req models.TurnRequest) (models.AgentState, error) {
	if req.Action == models.TurnActionSend && len(req.EditedEmails) > 0 {
		if s.ActionType == models.ActionSummarize {
			return s, fmt.Errorf("%w: thread is a summarize thread", models.ErrInput)
		}
		s.ActionType = models.ActionSendEmail
		s.EmailsToSend = append([]models.ComposedEmail{}, req.EditedEmails...)
		return o.dispatch(ctx, s, req.UserToken), nil
	}
	if s.AwaitingApproval {
		return o.resumeApproval(ctx, s, req)
	}
	if req.Action == models.TurnActionCancel {
		return o.cancel(s), nil
	}
	if req.Action != models.TurnActionContinue {
		return s, fmt.Errorf("%w: action %q needs a pending preview", models.ErrInput, req.Action)
	}

	if s.ActionType == models.ActionUnknown {
		s.Stage = models.StageDetectAction
		s.ActionType = o.detector.Detect(req.Message)
		if s.ActionType == models.ActionUnknown {
			s = s.WithTurn(models.RoleAgent, models.TurnKindMessage, HelpMessage, o.now())
			s.Stage = models.StageAwaitingUserInput
			s.ConversationComplete = false
			return s, nil
		}
	}

	switch s.ActionType {
	case models.ActionSummarize:
		return o.runSummarize(ctx, s, req.UserToken)
	default:
		return o.runSend(ctx, s, req.UserToken)
	}
}

func (o *Orchestrator) runSend(ctx context.Context, s models.AgentState, userToken string) (models.AgentState, error) {
	s.Stage = models.StageFetchContacts
	contacts, err := o.contacts.ListContacts(ctx, userToken)
	if err != nil {
		return s, err
	}
	s.Contacts = contacts

	s = o.stage(ctx, models.StageAnalyzeIntent, func(ctx context.Context) models.AgentState {
		return o.extractor.Extract(ctx, s)
	})
	s = o.gate.Apply(s, o.now())
	if !s.ConversationComplete {
		return s, nil
	}
	if s.Intent == nil || len(s.Intent.Recipients) == 0 {
		s = s.WithTurn(models.RoleAgent, models.TurnKindReport, noRecipientsMessage, o.now())
		s.Stage = models.StageCancelled
		return s, nil
	}

	s = o.stage(ctx, models.StageComposeEmails, func(ctx context.Context) models.AgentState {
		return o.composer.Compose(ctx, s, "")
	})
	return o.approval.Preview(s, o.now()), nil
}

func (o *Orchestrator) resumeApproval(ctx context.Context, s models.AgentState, req models.TurnRequest) (models.AgentState, error) {
	decision := o.approval.Classify(req)
	slog.Debug("Orchestrator.resumeApproval: reply classified", logging.KeyThread, s.ThreadID, "decision", decision.String())
	switch decision {
	case DecisionApprove:
		return o.dispatch(ctx, s, req.UserToken), nil
	case DecisionCancel:
		return o.cancel(s), nil
	case DecisionEdit:
		s.EmailsToSend = append([]models.ComposedEmail{}, req.EditedEmails...)
		return o.approval.Preview(s, o.now()), nil
	default:
		s = o.stage(ctx, models.StageComposeEmails, func(ctx context.Context) models.AgentState {
			return o.composer.Compose(ctx, s, req.Message)
		})
		return o.approval.Preview(s, o.now()), nil
	}
}

func (o *Orchestrator) cancel(s models.AgentState) models.AgentState {
	s = s.WithTurn(models.RoleAgent, models.TurnKindReport, cancelledMessage, o.now())
	s.AwaitingApproval = false
	s.ConversationComplete = true
	s.Stage = models.StageCancelled
	return s
}

func (o *Orchestrator) dispatch(ctx context.Context, s models.AgentState, userToken string) models.AgentState {
	s.Stage = models.StageDispatch
	var report models.DispatchReport
	s = o.stage(ctx, models.StageDispatch, func(ctx context.Context) models.AgentState {
		report = o.dispatcher.Dispatch(ctx, s.ThreadID, userToken, s.EmailsToSend)
		return s
	})
	s = s.WithTurn(models.RoleAgent, models.TurnKindReport, FormatReport(report), o.now())
	s.LastReport = &report
	s.AwaitingApproval = false
	s.ConversationComplete = true
	s.Stage = models.StageSent
	return s
}

func (o *Orchestrator) runSummarize(ctx context.Context, s models.AgentState, userToken string) (models.AgentState, error) {
	s.Stage = models.StageFetchEmails
	page, err := o.mail.ListMessages(ctx, userToken, o.cfg.SummarizeFilter, "", o.cfg.SummarizeFetch)
	if err != nil {
		return s, err
	}
	s.FetchedEmails = page.Messages

	var summary string
	s = o.stage(ctx, models.StageSummarize, func(ctx context.Context) models.AgentState {
		summary = o.summarizer.Summarize(ctx, page.Messages)
		return s
	})
	s = s.WithTurn(models.RoleAgent, models.TurnKindSummary, summary, o.now())
	s.ConversationComplete = true
	s.Stage = models.StageSummarized
	return s, nil
}

// stage runs fn inside a child span named after the stage.
func (o *Orchestrator) stage(ctx context.Context, name models.Stage, fn func(context.Context) models.AgentState) models.AgentState {
	ctx, span := o.tracer.Start(ctx, "flow."+string(name))
	defer span.End()
	return fn(ctx)
}
