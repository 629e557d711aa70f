// Package poller tracks submitted jobs until the provider reports a final
// state, keeps the user's progress message current and finalizes the job.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"vidqueue/internal/domain"
	"vidqueue/internal/infra"
	"vidqueue/internal/ledger"
	"vidqueue/internal/metrics"
	"vidqueue/internal/notify"
	"vidqueue/internal/providers/video"
	"vidqueue/internal/storage"
)

// TimeoutReason is written to jobs that exceed the polling cap.
const TimeoutReason = "Polling timed out"

// NoResultReason is written when the provider completes without a video URL.
const NoResultReason = "Provider returned no video URL"

// Provider reports task status.
type Provider interface {
	Poll(ctx context.Context, modelID, taskID, credential string) (video.PollResult, error)
}

// Jobs finalizes job rows.
type Jobs interface {
	Complete(ctx context.Context, id, providerURL, outputURL string) (bool, error)
	Fail(ctx context.Context, id, reason string) (bool, error)
}

// Artifacts copies the finished video to durable storage.
type Artifacts interface {
	PutURL(ctx context.Context, sourceURL, key, contentType string) (string, error)
}

// Registration is one job being polled.
type Registration struct {
	JobID      string
	UserID     string
	ModelID    string
	TaskID     string
	Credential string
	Prompt     string
	ChatID     int64
	MessageID  int
	Credits    int
	StartedAt  time.Time
}

// FromJob rebuilds a registration from a stored processing job.
func FromJob(job domain.Job) Registration {
	started := job.CreatedAt
	if job.StartedAt != nil {
		started = *job.StartedAt
	}
	return Registration{
		JobID:      job.ID,
		UserID:     job.UserID,
		ModelID:    job.Model(),
		TaskID:     job.ProviderTaskID,
		Credential: job.CredentialUsed,
		Prompt:     job.Prompt,
		ChatID:     job.ChatID,
		MessageID:  job.MessageID,
		Credits:    job.CreditsCharged,
		StartedAt:  started,
	}
}

// Config holds the poll schedule.
type Config struct {
	First       time.Duration
	Interval    time.Duration
	MaxDuration time.Duration
}

// DefaultConfig polls after 1s, then every 5s, for at most 20 minutes.
func DefaultConfig() Config {
	return Config{First: time.Second, Interval: 5 * time.Second, MaxDuration: 20 * time.Minute}
}

// Deps are the collaborators of a Poller.
type Deps struct {
	Provider  Provider
	Jobs      Jobs
	Users     domain.UserRepository
	Ledger    ledger.Ledger
	Artifacts Artifacts
	Notifier  notify.Notifier
	Texts     *notify.Texts
	Metrics   *metrics.Metrics
	Logger    *infra.Logger
	Now       func() time.Time
}

type entry struct {
	reg   Registration
	timer *time.Timer
}

type outcome struct {
	jobID string
	done  bool
}

// Poller owns the registrations. Only the Run goroutine touches the map;
// each tick polls in its own goroutine, and a job is rescheduled only after
// its previous poll returned.
type Poller struct {
	Deps
	cfg Config

	register chan Registration
	fired    chan string
	finished chan outcome
	size     atomic.Int64
}

func New(cfg Config, deps Deps) *Poller {
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
	return &Poller{
		Deps:     deps,
		cfg:      cfg,
		register: make(chan Registration, 64),
		fired:    make(chan string),
		finished: make(chan outcome),
	}
}

// Register hands a job to the poller. It blocks while the registration
// queue is full.
func (p *Poller) Register(ctx context.Context, reg Registration) error {
	select {
	case p.register <- reg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the number of tracked jobs.
func (p *Poller) Len() int { return int(p.size.Load()) }

// Run serves registrations until ctx is cancelled, then stops all timers and
// waits for polls already running.
func (p *Poller) Run(ctx context.Context) error {
	entries := make(map[string]*entry)
	var wg sync.WaitGroup
	defer func() {
		for _, e := range entries {
			e.timer.Stop()
		}
		wg.Wait()
		p.size.Store(0)
		p.Metrics.SetInFlight(0)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case reg := <-p.register:
			if _, ok := entries[reg.JobID]; ok {
				continue
			}
			e := &entry{reg: reg}
			e.timer = p.schedule(ctx, reg.JobID, p.cfg.First)
			entries[reg.JobID] = e
			p.Logger.Info().Str("job_id", reg.JobID).Str("task_id", reg.TaskID).Msg("poller: registered")

		case id := <-p.fired:
			e, ok := entries[id]
			if !ok {
				continue
			}
			wg.Add(1)
			go func(reg Registration) {
				defer wg.Done()
				done := p.pollOnce(ctx, reg)
				select {
				case p.finished <- outcome{jobID: reg.JobID, done: done}:
				case <-ctx.Done():
				}
			}(e.reg)

		case res := <-p.finished:
			e, ok := entries[res.jobID]
			if !ok {
				continue
			}
			if res.done {
				delete(entries, res.jobID)
			} else {
				e.timer = p.schedule(ctx, res.jobID, p.cfg.Interval)
			}
		}
		p.size.Store(int64(len(entries)))
		p.Metrics.SetInFlight(len(entries))
	}
}

func (p *Poller) schedule(ctx context.Context, jobID string, after time.Duration) *time.Timer {
	return time.AfterFunc(after, func() {
		select {
		case p.fired <- jobID:
		case <-ctx.Done():
		}
	})
}

// pollOnce runs one tick for reg and reports whether the job is finished.
func (p *Poller) pollOnce(ctx context.Context, reg Registration) bool {
	log := p.Logger.With().Str("job_id", reg.JobID).Str("task_id", reg.TaskID).Logger()
	elapsed := p.Now().Sub(reg.StartedAt)
	if p.cfg.MaxDuration > 0 && elapsed > p.cfg.MaxDuration {
		log.Warn().Dur("elapsed", elapsed).Msg("poller: polling cap reached")
		return p.fail(ctx, reg, TimeoutReason)
	}

	res, err := p.Provider.Poll(ctx, reg.ModelID, reg.TaskID, reg.Credential)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("poller: status check failed, retrying")
		}
		return false
	}

	switch res.State {
	case video.StateCompleted:
		if res.ResultURL == "" {
			return p.fail(ctx, reg, NoResultReason)
		}
		return p.complete(ctx, reg, res.ResultURL, elapsed)
	case video.StateFailed:
		return p.fail(ctx, reg, res.Error)
	default:
		secs := int(elapsed / time.Second)
		pct := 2 * secs
		if pct > 98 {
			pct = 98
		}
		if pct < 0 {
			pct = 0
		}
		if err := p.Notifier.Edit(ctx, reg.ChatID, reg.MessageID, p.Texts.Progress(pct, secs)); err != nil {
			log.Debug().Err(err).Msg("poller: progress edit failed")
		}
		return false
	}
}

func (p *Poller) complete(ctx context.Context, reg Registration, providerURL string, elapsed time.Duration) bool {
	log := p.Logger.With().Str("job_id", reg.JobID).Logger()
	_ = p.Notifier.Edit(ctx, reg.ChatID, reg.MessageID, p.Texts.Completed(int(elapsed/time.Second)))

	durable := ""
	if p.Artifacts != nil {
		url, err := p.Artifacts.PutURL(ctx, providerURL, storage.VideoKey(reg.JobID), storage.VideoContentType)
		if err != nil {
			log.Error().Err(err).Msg("poller: durable copy failed, keeping provider url")
		} else {
			durable = url
		}
	}

	moved, err := p.Jobs.Complete(ctx, reg.JobID, providerURL, durable)
	if err != nil {
		log.Error().Err(err).Msg("poller: complete failed, retrying")
		return false
	}
	if !moved {
		log.Warn().Msg("poller: job no longer processing, dropping")
		return true
	}
	p.Metrics.Finished(domain.JobStatusCompleted, 1)
	if p.Users != nil {
		if err := p.Users.IncrementVideoCount(ctx, reg.UserID); err != nil {
			log.Error().Err(err).Str("user_id", reg.UserID).Msg("poller: video count not incremented")
		}
	}

	caption := notify.CaptionData{Model: reg.ModelID, Prompt: reg.Prompt, Free: reg.Credits == 0, Cost: reg.Credits}
	if !caption.Free && p.Ledger != nil {
		if bal, err := p.Ledger.Balance(ctx, reg.UserID); err == nil {
			caption.Balance = bal.Total()
		}
	}
	output := durable
	if output == "" {
		output = providerURL
	}
	if err := p.Notifier.SendVideo(ctx, reg.ChatID, notify.VideoMessage{URL: output, Caption: p.Texts.Caption(caption), JobID: reg.JobID}); err != nil {
		log.Warn().Err(err).Msg("poller: video delivery failed")
	}
	log.Info().Str("url", output).Msg("poller: job completed")
	return true
}

func (p *Poller) fail(ctx context.Context, reg Registration, reason string) bool {
	log := p.Logger.With().Str("job_id", reg.JobID).Logger()
	moved, err := p.Jobs.Fail(ctx, reg.JobID, reason)
	if err != nil {
		log.Error().Err(err).Msg("poller: fail update failed, retrying")
		return false
	}
	if !moved {
		log.Warn().Msg("poller: job no longer processing, dropping")
		return true
	}
	p.Metrics.Finished(domain.JobStatusFailed, 1)
	if err := p.tell(ctx, reg, p.Texts.Failed(reason)); err != nil {
		log.Warn().Err(err).Msg("poller: failure notice not delivered")
	}
	log.Info().Str("reason", reason).Msg("poller: job failed")
	return true
}

// tell edits the job's status message, or sends a new one when there is none.
func (p *Poller) tell(ctx context.Context, reg Registration, text string) error {
	if reg.MessageID == 0 {
		_, err := p.Notifier.Send(ctx, reg.ChatID, text)
		return err
	}
	return p.Notifier.Edit(ctx, reg.ChatID, reg.MessageID, text)
}
