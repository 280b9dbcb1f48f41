package services

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"reverie/internal/apperrors"
	"reverie/internal/config"
	"reverie/internal/logging"
	"reverie/internal/models"
)

// Turn outcomes for metrics and logs.
const (
	outcomeOK        = "ok"
	outcomeDeflected = "deflected"
	outcomeFallback  = "fallback"
	outcomeError     = "error"
)

// Archiver receives summaries evicted past the retention cap. The
// pipeline never blocks on it; implementations log their own failures.
type Archiver interface {
	ArchiveSummaries(summaries []*models.ConversationSummary)
}

// TurnResult is the outcome of one processed turn.
type TurnResult struct {
	TurnID    string
	SessionID string
	Response  string
	Tone      models.ToneResult

	// Degraded marks a turn that ran with incomplete memory: a tier
	// read was served from fallback, or persistence failed after the
	// response was produced.
	Degraded bool

	// PersistErr is set when the response was generated but memory
	// writes were exhausted; the response is still valid.
	PersistErr error
}

// EngineService orchestrates one conversation turn across the memory
// tiers, tone detection, context assembly, generation, and safety
// validation.
type EngineService struct {
	cfg        *config.Config
	store      MemoryStore
	tone       *ToneService
	builder    *ContextBuilder
	summarizer *SummarizerService
	safety     *SafetyService
	persona    *PersonaService
	generator  Generator
	archiver   Archiver
	locks      *SessionLocks
	metrics    *Metrics
}

// NewEngineService wires the turn pipeline. archiver may be nil when
// no archive backend is configured; metrics may be nil in tests.
func NewEngineService(
	cfg *config.Config,
	store MemoryStore,
	tone *ToneService,
	builder *ContextBuilder,
	summarizer *SummarizerService,
	safety *SafetyService,
	persona *PersonaService,
	generator Generator,
	archiver Archiver,
	metrics *Metrics,
) *EngineService {
	return &EngineService{
		cfg:        cfg,
		store:      store,
		tone:       tone,
		builder:    builder,
		summarizer: summarizer,
		safety:     safety,
		persona:    persona,
		generator:  generator,
		archiver:   archiver,
		locks:      NewSessionLocks(),
		metrics:    metrics,
	}
}

// ProcessTurn runs one turn end to end:
//
//  1. Validate input, before any store access.
//  2. Serialize on (user, session); other sessions run in parallel.
//  3. Detect tone; deflect are-you-a-bot questions with a curated
//     reply that skips generation and safety.
//  4. Assemble the token-budgeted bundle (reads degrade, never fail).
//  5. Generate with bounded retries. Exhaustion returns a tone-keyed
//     fallback and writes nothing: a turn that produced no real
//     response leaves no partial state behind.
//  6. Validate the candidate. Unsafe verdicts get one regeneration
//     with an augmented prompt, then sanitization, then the fallback.
//  7. Persist both exchanges, the profile delta, and any summary
//     rollup, retrying writes with backoff. Exhausted writes still
//     return the response, flagged degraded.
func (e *EngineService) ProcessTurn(ctx context.Context, userID, sessionID, message string) (*TurnResult, error) {
	start := time.Now()

	clean, err := ValidateTurnInput(userID, sessionID, message)
	if err != nil {
		e.recordError(apperrors.KindOf(err))
		return nil, err
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	turnID := uuid.New().String()
	log := logging.WithTurn(turnID, userID, sessionID)

	release := e.locks.Acquire(userID + "|" + sessionID)
	defer release()

	tone := e.tone.Detect(clean)
	log.Debugf("💬 [ENGINE] Tone %s (%.2f, %s energy)", tone.Primary, tone.Confidence, tone.Energy)

	if e.persona.IsBotQuestion(clean) {
		return e.deflectTurn(ctx, log, start, turnID, userID, sessionID, clean, tone)
	}

	build, err := e.builder.Build(ctx, userID, sessionID, clean, tone, e.cfg.TokenBudget)
	if err != nil {
		log.Errorf("❌ [ENGINE] Context assembly failed: %v", err)
		e.recordError(apperrors.KindOf(err))
		e.recordTurn(outcomeError, start)
		return nil, err
	}
	if build.Degraded {
		e.recordDegraded()
	}
	if e.metrics != nil {
		e.metrics.RecordContextTokens(build.Bundle.TokenEstimate)
	}

	candidate, err := e.generateWithRetry(ctx, log, build.Bundle)
	if err != nil {
		if ctx.Err() != nil {
			e.recordError(apperrors.KindGenerationFailure)
			e.recordTurn(outcomeError, start)
			return nil, apperrors.NewGenerationFailure("turn cancelled", false, ctx.Err())
		}
		// No partial writes: the user message is not recorded for a
		// turn that never produced a real response.
		log.Warnf("⚠️ [ENGINE] Generation exhausted, serving fallback without writes: %v", err)
		e.recordTurn(outcomeFallback, start)
		return &TurnResult{
			TurnID:    turnID,
			SessionID: sessionID,
			Response:  e.persona.Fallback(tone.Primary, turnID),
			Tone:      tone,
			Degraded:  build.Degraded,
		}, nil
	}

	response, outcome := e.ensureSafe(ctx, log, build.Bundle, candidate, tone, turnID)

	persistErr := e.persistTurn(ctx, log, build, clean, response, tone)
	if persistErr != nil {
		log.Errorf("❌ [ENGINE] Persistence exhausted, returning response anyway: %v", persistErr)
	}

	e.recordTurn(outcome, start)
	log.Infof("💬 [ENGINE] Turn complete in %s (%s)", time.Since(start).Round(time.Millisecond), outcome)

	return &TurnResult{
		TurnID:     turnID,
		SessionID:  sessionID,
		Response:   response,
		Tone:       tone,
		Degraded:   build.Degraded || persistErr != nil,
		PersistErr: persistErr,
	}, nil
}

// SessionOpener returns a greeting for a session with no history yet,
// or "" when the session already exists, the persona defines no
// openers, or the store cannot answer.
func (e *EngineService) SessionOpener(ctx context.Context, userID, sessionID string) string {
	if _, err := e.store.GetSession(ctx, sessionID); !apperrors.IsRecordNotFound(err) {
		return ""
	}
	newUser := false
	if _, err := e.store.GetProfile(ctx, userID); err != nil {
		if !apperrors.IsRecordNotFound(err) {
			return ""
		}
		newUser = true
	}
	return e.persona.Opener(newUser, userID+"|"+sessionID)
}

// deflectTurn answers an are-you-a-bot question with a curated reply.
// Both exchanges are still recorded so the conversation stays
// continuous, but generation and safety never run.
func (e *EngineService) deflectTurn(ctx context.Context, log *logrus.Entry, start time.Time, turnID, userID, sessionID, clean string, tone models.ToneResult) (*TurnResult, error) {
	reply := e.persona.Deflection(userID + "|" + clean)
	log.Infof("🎭 [ENGINE] Bot question deflected")

	session, degraded := e.loadSessionState(ctx, userID, sessionID)
	build := &BuildResult{Session: session, Degraded: degraded}
	persistErr := e.persistTurn(ctx, log, build, clean, reply, tone)

	e.recordTurn(outcomeDeflected, start)
	return &TurnResult{
		TurnID:     turnID,
		SessionID:  sessionID,
		Response:   reply,
		Tone:       tone,
		Degraded:   degraded || persistErr != nil,
		PersistErr: persistErr,
	}, nil
}

func (e *EngineService) loadSessionState(ctx context.Context, userID, sessionID string) (*models.SessionContext, bool) {
	session, err := e.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		return session, false
	case apperrors.IsRecordNotFound(err):
		return models.NewSessionContext(sessionID, userID), false
	default:
		e.recordDegraded()
		return models.NewSessionContext(sessionID, userID), true
	}
}

// generateWithRetry calls the generator, retrying transient failures
// with exponential backoff up to the configured attempt budget.
func (e *EngineService) generateWithRetry(ctx context.Context, log *logrus.Entry, bundle *models.ContextBundle) (string, error) {
	prompt := bundle.Render()
	system := e.persona.Current().SystemPrompt

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.cfg.GenerationRetries)), ctx)

	var result *GenerationResult
	err := backoff.RetryNotify(func() error {
		res, genErr := e.generator.Generate(ctx, system, prompt)
		if genErr != nil {
			if apperrors.IsRetryable(genErr) {
				e.recordGeneration("retryable_error")
				return genErr
			}
			return backoff.Permanent(genErr)
		}
		result = res
		return nil
	}, policy, func(err error, next time.Duration) {
		log.Warnf("⚠️ [ENGINE] Generation attempt failed, retrying in %s: %v", next.Round(time.Millisecond), err)
	})
	if err != nil {
		e.recordGeneration("fatal_error")
		return "", err
	}

	e.recordGeneration("ok")
	return strings.TrimSpace(result.Text), nil
}

// ensureSafe runs the validator and the bounded recovery ladder: one
// regeneration with an augmented prompt, then sanitization, then the
// tone-keyed fallback. Curated fallback text is trusted as written.
func (e *EngineService) ensureSafe(ctx context.Context, log *logrus.Entry, bundle *models.ContextBundle, candidate string, tone models.ToneResult, turnID string) (string, string) {
	verdict := e.safety.Validate(candidate, bundle)
	if verdict.Safe {
		return candidate, outcomeOK
	}
	e.recordRejection(verdict.Reason)
	log.Warnf("🛡️ [ENGINE] Candidate rejected (%s): %q", verdict.Reason, verdict.Detail)

	regen, err := e.regenerate(ctx, bundle, verdict)
	if err != nil {
		log.Warnf("⚠️ [ENGINE] Regeneration failed: %v", err)
	} else {
		regen = strings.TrimSpace(regen)
		v := e.safety.Validate(regen, bundle)
		if v.Safe {
			return regen, outcomeOK
		}
		e.recordRejection(v.Reason)
		log.Warnf("🛡️ [ENGINE] Regeneration rejected (%s): %q", v.Reason, v.Detail)
		candidate = regen
	}

	sanitized := e.safety.Sanitize(candidate)
	if v := e.safety.Validate(sanitized, bundle); v.Safe {
		log.Infof("🛡️ [ENGINE] Sanitized candidate accepted")
		return sanitized, outcomeOK
	}

	log.Warnf("🛡️ [ENGINE] Sanitization insufficient, serving fallback")
	return e.persona.Fallback(tone.Primary, turnID), outcomeFallback
}

// regenerate asks for one replacement response with the violation
// named, so the model can steer away from it.
func (e *EngineService) regenerate(ctx context.Context, bundle *models.ContextBundle, verdict Verdict) (string, error) {
	var instruction string
	switch verdict.Reason {
	case ReasonForbiddenContent:
		instruction = "Never describe yourself as a machine, a program, or any kind of system. You are just yourself."
	case ReasonUnnaturalPhrasing:
		instruction = "Avoid stock assistant phrases. Speak the way a person texts a friend."
	default:
		instruction = "Do not claim memories, observations, or facts about the user beyond what appears in the conversation above."
	}

	prompt := bundle.Render() + "\n\nIMPORTANT: Your previous draft was rejected. " + instruction
	res, err := e.generator.Generate(ctx, e.persona.Current().SystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// persistTurn writes everything the turn learned: both exchanges,
// topic and mood, the profile delta, a summary rollup when due, and
// the session registry entry. Each write retries with backoff;
// failures are collected but do not stop the remaining writes, since
// the tiers live under independent keys.
func (e *EngineService) persistTurn(ctx context.Context, log *logrus.Entry, build *BuildResult, userText, assistantText string, tone models.ToneResult) error {
	session := build.Session
	now := time.Now().UTC()

	session.AppendExchange(models.Exchange{
		Role:      models.RoleUser,
		Text:      userText,
		Tone:      tone.Primary,
		Timestamp: now,
	}, e.cfg.RecentExchangesMax)
	session.AppendExchange(models.Exchange{
		Role:      models.RoleAssistant,
		Text:      assistantText,
		Timestamp: now,
	}, e.cfg.RecentExchangesMax)

	if topics := detectTopics([]models.Exchange{{Text: userText}}); len(topics) > 0 {
		session.CurrentTopic = topics[0]
	}
	session.CurrentMood = tone.Primary

	delta := ExtractProfileDelta(userText)
	delta.InteractionDelta = 1
	delta.SeenAt = now

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(e.retryWrite(ctx, log, "profile merge", func() error {
		_, err := e.store.MergeProfile(ctx, session.UserID, delta)
		return err
	}))

	keep(e.retryWrite(ctx, log, "summary rollup", func() error {
		summary, evicted, err := e.summarizer.SummarizeAndStore(ctx, session)
		if err != nil {
			return err
		}
		if summary != nil && e.metrics != nil {
			e.metrics.RecordSummaryCreated()
		}
		if len(evicted) > 0 && e.archiver != nil {
			e.archiver.ArchiveSummaries(evicted)
		}
		return nil
	}))

	keep(e.retryWrite(ctx, log, "session write", func() error {
		return e.store.PutSession(ctx, session)
	}))

	keep(e.retryWrite(ctx, log, "session register", func() error {
		return e.store.RegisterSession(ctx, session.UserID, session.SessionID)
	}))

	return firstErr
}

// retryWrite retries one persistence op with bounded exponential
// backoff. Non-retryable errors abort immediately.
func (e *EngineService) retryWrite(ctx context.Context, log *logrus.Entry, name string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.WriteRetryBase
	bo.MaxInterval = e.cfg.WriteRetryLimit
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.cfg.WriteRetries)), ctx)

	return backoff.RetryNotify(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !apperrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		if e.metrics != nil {
			e.metrics.RecordWriteRetry()
		}
		log.Warnf("⚠️ [ENGINE] %s failed, retrying in %s: %v", name, next.Round(time.Millisecond), err)
	})
}

func (e *EngineService) recordTurn(outcome string, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordTurn(outcome, time.Since(start).Seconds())
	}
}

func (e *EngineService) recordError(kind apperrors.Kind) {
	if e.metrics != nil {
		e.metrics.RecordTurnError(string(kind))
	}
}

func (e *EngineService) recordDegraded() {
	if e.metrics != nil {
		e.metrics.RecordDegradedRead()
	}
}

func (e *EngineService) recordGeneration(outcome string) {
	if e.metrics != nil {
		e.metrics.RecordGeneration(outcome)
	}
}

func (e *EngineService) recordRejection(reason string) {
	if e.metrics != nil {
		e.metrics.RecordSafetyRejection(reason)
	}
}
