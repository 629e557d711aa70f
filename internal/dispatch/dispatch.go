// Package dispatch moves pending jobs to the provider one at a time, subject
// to admission, cooldown and credits.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vidqueue/internal/cooldown"
	"vidqueue/internal/domain"
	"vidqueue/internal/infra"
	"vidqueue/internal/ledger"
	"vidqueue/internal/metrics"
	"vidqueue/internal/notify"
	"vidqueue/internal/poller"
	"vidqueue/internal/providers/video"
)

// Delays between iterations.
const (
	PacingDelay = 500 * time.Millisecond
	BusyDelay   = 2 * time.Second
	IdleDelay   = 2 * time.Second
	ErrorDelay  = 5 * time.Second
)

// Failure reasons stored on jobs.
const (
	ReasonInsufficientCredits = "Insufficient credits"
	ReasonMissingImage        = "Source image URL is missing"
	ReasonUserNotFound        = "User not found"
)

// Outcome names what one iteration did.
type Outcome string

const (
	OutcomePacing     Outcome = "pacing"
	OutcomeGlobalBusy Outcome = "global_busy"
	OutcomeStoreError Outcome = "store_error"
	OutcomeIdle       Outcome = "idle"
	OutcomeUserBusy   Outcome = "user_busy"
	OutcomeLostClaim  Outcome = "lost_claim"
	OutcomeDispatched Outcome = "dispatched"
	OutcomeFailed     Outcome = "failed"
)

// Gate is the admission controller.
type Gate interface {
	PacingReady() bool
	MarkSubmitted()
	GlobalAllowed(ctx context.Context) bool
	UserAllowed(ctx context.Context, user domain.User) bool
}

// Throttle is the cooldown check.
type Throttle interface {
	Check(ctx context.Context, userID string, class domain.AccountClass, modelID string) cooldown.Decision
	Record(ctx context.Context, userID, modelID string) error
}

// Credentials resolves the key pool of a user.
type Credentials interface {
	Resolve(ctx context.Context, user domain.User) ([]string, error)
}

// Gateway submits jobs to the provider.
type Gateway interface {
	Submit(ctx context.Context, req video.SubmitRequest) (video.SubmitResult, error)
}

// Registrar hands submitted jobs to the status poller.
type Registrar interface {
	Register(ctx context.Context, reg poller.Registration) error
}

// Config tunes the loop.
type Config struct {
	Source    string
	LookAhead int
}

// Deps are the collaborators of a Loop.
type Deps struct {
	Jobs        domain.JobRepository
	Users       domain.UserRepository
	Models      domain.ModelRepository
	Gate        Gate
	Throttle    Throttle
	Ledger      ledger.Ledger
	Credentials Credentials
	Gateway     Gateway
	Poller      Registrar
	Notifier    notify.Notifier
	Texts       *notify.Texts
	Metrics     *metrics.Metrics
	Logger      *infra.Logger
	Now         func() time.Time
}

// Loop is the single consumer of the pending queue.
type Loop struct {
	Deps
	cfg Config
}

func New(cfg Config, deps Deps) *Loop {
	if cfg.Source == "" {
		cfg.Source = "telegram"
	}
	if cfg.LookAhead <= 0 {
		cfg.LookAhead = 1
	}
	if deps.Logger == nil {
		deps.Logger = infra.NopLogger()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Texts == nil {
		deps.Texts = notify.NewTexts("id")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(deps.Logger)
	}
	return &Loop{Deps: deps, cfg: cfg}
}

// Run iterates until ctx is cancelled. A value on wake ends an idle sleep
// early.
func (l *Loop) Run(ctx context.Context, wake <-chan struct{}) error {
	l.Logger.Info().Str("source", l.cfg.Source).Int("lookahead", l.cfg.LookAhead).Msg("dispatch: loop started")
	for {
		if ctx.Err() != nil {
			l.Logger.Info().Msg("dispatch: loop stopped")
			return nil
		}
		delay, outcome := l.Step(ctx)
		if delay <= 0 {
			continue
		}
		var wakeC <-chan struct{}
		if outcome == OutcomeIdle {
			wakeC = wake
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-wakeC:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Step runs one iteration and returns the delay before the next one.
func (l *Loop) Step(ctx context.Context) (time.Duration, Outcome) {
	if !l.Gate.PacingReady() {
		return PacingDelay, OutcomePacing
	}
	if !l.Gate.GlobalAllowed(ctx) {
		return BusyDelay, OutcomeGlobalBusy
	}
	jobs, err := l.Jobs.OldestPending(ctx, l.cfg.Source, l.cfg.LookAhead)
	if err != nil {
		l.Logger.Error().Err(err).Msg("dispatch: fetch pending failed")
		return ErrorDelay, OutcomeStoreError
	}
	if len(jobs) == 0 {
		return IdleDelay, OutcomeIdle
	}

	for i := range jobs {
		job := jobs[i]
		user, err := l.Users.GetByID(ctx, job.UserID)
		if errors.Is(err, domain.ErrNotFound) {
			return l.claimAndFail(ctx, job, ReasonUserNotFound)
		}
		if err != nil {
			l.Logger.Error().Err(err).Str("job_id", job.ID).Str("user_id", job.UserID).Msg("dispatch: load user failed")
			return ErrorDelay, OutcomeStoreError
		}
		if !l.Gate.UserAllowed(ctx, *user) {
			l.Logger.Debug().Str("job_id", job.ID).Str("user_id", user.ID).Msg("dispatch: user at limit")
			continue
		}
		return l.dispatch(ctx, job, *user)
	}
	return BusyDelay, OutcomeUserBusy
}

func (l *Loop) dispatch(ctx context.Context, job domain.Job, user domain.User) (time.Duration, Outcome) {
	log := l.Logger.With().Str("job_id", job.ID).Str("user_id", user.ID).Logger()
	claimed, err := l.Jobs.Claim(ctx, job.ID, l.Now())
	if err != nil {
		log.Error().Err(err).Msg("dispatch: claim failed")
		return ErrorDelay, OutcomeStoreError
	}
	if !claimed {
		log.Debug().Msg("dispatch: claim lost")
		return 0, OutcomeLostClaim
	}
	l.Metrics.Dispatched()

	// A claimed job is carried to a terminal or submitted state even when
	// shutdown starts; each remote call is bounded by its own timeout.
	registerCtx := ctx
	ctx = context.WithoutCancel(ctx)

	if job.ImageURL == "" {
		return l.fail(ctx, job, ReasonMissingImage, l.Texts.SubmitFailed(ReasonMissingImage))
	}

	model := job.Model()
	if d := l.Throttle.Check(ctx, user.ID, user.Class, model); !d.Allowed {
		secs := int(d.Remaining.Round(time.Second) / time.Second)
		text := l.Texts.Cooldown(d.Cycle, secs/60, secs%60)
		return l.fail(ctx, job, text, text)
	}

	cost := l.cost(ctx, model, job.Duration())
	charged := 0
	if !user.Class.CreditExempt() && cost > 0 {
		ok, err := l.Ledger.Debit(ctx, user.ID, cost)
		if err != nil {
			log.Error().Err(err).Int("cost", cost).Msg("dispatch: debit failed")
			return l.fail(ctx, job, "Credit check failed: "+err.Error(), l.Texts.SubmitFailed(err.Error()))
		}
		if !ok {
			log.Info().Int("cost", cost).Msg("dispatch: insufficient credits")
			return l.fail(ctx, job, ReasonInsufficientCredits, l.Texts.InsufficientCredits())
		}
		charged = cost
	}

	keys, err := l.Credentials.Resolve(ctx, user)
	if err == nil && len(keys) == 0 {
		err = domain.ErrNoCredentials
	}
	var res video.SubmitResult
	if err == nil {
		l.Gate.MarkSubmitted()
		res, err = l.Gateway.Submit(ctx, video.SubmitRequest{
			ModelID:     model,
			ImageURL:    job.ImageURL,
			Prompt:      job.Prompt,
			Options:     job.Options,
			Credentials: keys,
		})
	}
	if err != nil {
		l.Metrics.Submission("failed")
		l.refund(ctx, user.ID, charged)
		log.Error().Err(err).Str("model", model).Msg("dispatch: submission failed")
		return l.fail(ctx, job, fmt.Sprintf("API Error: %s", err), l.Texts.SubmitFailed(err.Error()))
	}
	l.Metrics.Submission("accepted")

	msgID := l.announce(ctx, job)
	sub := domain.Submission{TaskID: res.TaskID, Credential: res.Credential, Credits: charged, MessageID: msgID}
	if err := l.Jobs.MarkSubmitted(ctx, job.ID, sub); err != nil {
		log.Error().Err(err).Str("task_id", res.TaskID).Msg("dispatch: task details not persisted")
	}
	if err := l.Throttle.Record(ctx, user.ID, model); err != nil {
		log.Warn().Err(err).Msg("dispatch: cooldown not recorded")
	}

	reg := poller.Registration{
		JobID:      job.ID,
		UserID:     user.ID,
		ModelID:    model,
		TaskID:     res.TaskID,
		Credential: res.Credential,
		Prompt:     job.Prompt,
		ChatID:     job.ChatID,
		MessageID:  msgID,
		Credits:    charged,
		StartedAt:  l.Now(),
	}
	if err := l.Poller.Register(registerCtx, reg); err != nil {
		// The task id is stored, so the next leader picks the job up again.
		log.Error().Err(err).Msg("dispatch: poller registration failed")
	}
	log.Info().Str("model", model).Str("task_id", res.TaskID).Int("credits", charged).Msg("dispatch: job submitted")
	return 0, OutcomeDispatched
}

// claimAndFail takes ownership of a job that can never run and fails it.
func (l *Loop) claimAndFail(ctx context.Context, job domain.Job, reason string) (time.Duration, Outcome) {
	claimed, err := l.Jobs.Claim(ctx, job.ID, l.Now())
	if err != nil {
		l.Logger.Error().Err(err).Str("job_id", job.ID).Msg("dispatch: claim failed")
		return ErrorDelay, OutcomeStoreError
	}
	if !claimed {
		return 0, OutcomeLostClaim
	}
	return l.fail(context.WithoutCancel(ctx), job, reason, l.Texts.SubmitFailed(reason))
}

func (l *Loop) fail(ctx context.Context, job domain.Job, reason, text string) (time.Duration, Outcome) {
	moved, err := l.Jobs.Fail(ctx, job.ID, reason)
	if err != nil {
		l.Logger.Error().Err(err).Str("job_id", job.ID).Msg("dispatch: fail update failed")
	}
	if moved {
		l.Metrics.Finished(domain.JobStatusFailed, 1)
	}
	if _, err := l.tell(ctx, job, text); err != nil {
		l.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("dispatch: failure notice not delivered")
	}
	return 0, OutcomeFailed
}

func (l *Loop) refund(ctx context.Context, userID string, amount int) {
	if amount <= 0 {
		return
	}
	if err := l.Ledger.Refund(ctx, userID, amount); err != nil {
		l.Logger.Error().Err(err).Str("user_id", userID).Int("amount", amount).Msg("dispatch: refund failed")
	}
}

// cost prices a job; a missing pricing row costs nothing.
func (l *Loop) cost(ctx context.Context, modelID, duration string) int {
	m, err := l.Models.GetByID(ctx, modelID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			l.Logger.Warn().Str("model", modelID).Msg("dispatch: no pricing row, charging 0")
		} else {
			l.Logger.Error().Err(err).Str("model", modelID).Msg("dispatch: pricing lookup failed, charging 0")
		}
		return 0
	}
	return m.Cost(duration)
}

// announce shows the processing notice and returns the status message id.
func (l *Loop) announce(ctx context.Context, job domain.Job) int {
	id, err := l.tell(ctx, job, l.Texts.Processing())
	if err != nil {
		l.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("dispatch: processing notice not delivered")
	}
	return id
}

// tell edits the job's status message when it has one and sends a new
// message otherwise.
func (l *Loop) tell(ctx context.Context, job domain.Job, text string) (int, error) {
	msgID := job.MessageID
	if msgID == 0 {
		if v, ok := job.Options.Int("msg_id"); ok {
			msgID = v
		}
	}
	if msgID != 0 {
		return msgID, l.Notifier.Edit(ctx, job.ChatID, msgID, text)
	}
	return l.Notifier.Send(ctx, job.ChatID, text)
}
