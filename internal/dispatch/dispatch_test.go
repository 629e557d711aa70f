package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidqueue/internal/admission"
	"vidqueue/internal/cooldown"
	"vidqueue/internal/domain"
	"vidqueue/internal/ledger"
	"vidqueue/internal/metrics"
	"vidqueue/internal/notify"
	"vidqueue/internal/poller"
	"vidqueue/internal/providers/video"
)

type memJobs struct {
	mu        sync.Mutex
	jobs      map[string]*domain.Job
	fetchErr  error
	stealNext bool
}

func newMemJobs(jobs ...domain.Job) *memJobs {
	m := &memJobs{jobs: map[string]*domain.Job{}}
	for i := range jobs {
		j := jobs[i]
		if j.Status == "" {
			j.Status = domain.JobStatusPending
		}
		if j.Source == "" {
			j.Source = "telegram"
		}
		m.jobs[j.ID] = &j
	}
	return m
}

func (m *memJobs) get(id string) domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memJobs) Enqueue(ctx context.Context, job *domain.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := *job
	m.jobs[j.ID] = &j
	return j.ID, nil
}

func (m *memJobs) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *j
	return &c, nil
}

func (m *memJobs) OldestPending(ctx context.Context, source string, limit int) ([]domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	var out []domain.Job
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusPending && j.Source == source {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobs) transition(id string, from, to domain.JobStatus, apply func(*domain.Job)) bool {
	j, ok := m.jobs[id]
	if !ok || j.Status != from || !domain.CanTransition(from, to) {
		return false
	}
	j.Status = to
	if apply != nil {
		apply(j)
	}
	return true
}

func (m *memJobs) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stealNext {
		m.stealNext = false
		m.jobs[id].Status = domain.JobStatusProcessing
		return false, nil
	}
	return m.transition(id, domain.JobStatusPending, domain.JobStatusProcessing, func(j *domain.Job) { j.StartedAt = &at }), nil
}

func (m *memJobs) MarkSubmitted(ctx context.Context, id string, sub domain.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.ProviderTaskID, j.CredentialUsed, j.CreditsCharged, j.MessageID = sub.TaskID, sub.Credential, sub.Credits, sub.MessageID
	return nil
}

func (m *memJobs) Complete(ctx context.Context, id, providerURL, outputURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if outputURL == "" {
		outputURL = providerURL
	}
	return m.transition(id, domain.JobStatusProcessing, domain.JobStatusCompleted, func(j *domain.Job) {
		j.ProviderURL, j.OutputURL = providerURL, outputURL
	}), nil
}

func (m *memJobs) Fail(ctx context.Context, id, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(id, domain.JobStatusProcessing, domain.JobStatusFailed, func(j *domain.Job) { j.Error = reason }), nil
}

func (m *memJobs) ListInFlight(ctx context.Context) ([]domain.Job, error) { return nil, nil }

func (m *memJobs) CountPending(ctx context.Context, source string) (int, error) { return 0, nil }

func (m *memJobs) CountProcessingSince(ctx context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusProcessing && !j.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memJobs) CountUserProcessing(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.UserID == userID && j.Status == domain.JobStatusProcessing {
			n++
		}
	}
	return n, nil
}

func (m *memJobs) ReapStale(ctx context.Context, userID string, before time.Time, reason string) (int64, error) {
	return 0, nil
}

type memUsers struct {
	mu     sync.Mutex
	users  map[string]domain.User
	videos map[string]int
}

func (m *memUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (m *memUsers) IncrementVideoCount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[id]++
	return nil
}

type memModels map[string]domain.AIModel

func (m memModels) GetByID(ctx context.Context, id string) (*domain.AIModel, error) {
	model, ok := m[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &model, nil
}

type openGate struct {
	userAllowed map[string]bool
	marked      int
}

func (g *openGate) PacingReady() bool                      { return true }
func (g *openGate) MarkSubmitted()                         { g.marked++ }
func (g *openGate) GlobalAllowed(ctx context.Context) bool { return true }
func (g *openGate) UserAllowed(ctx context.Context, u domain.User) bool {
	if g.userAllowed == nil {
		return true
	}
	return g.userAllowed[u.ID]
}

type fakeThrottle struct {
	decision cooldown.Decision
	recorded []string
}

func (f *fakeThrottle) Check(ctx context.Context, userID string, class domain.AccountClass, modelID string) cooldown.Decision {
	if f.decision == (cooldown.Decision{}) {
		return cooldown.Decision{Allowed: true}
	}
	return f.decision
}

func (f *fakeThrottle) Record(ctx context.Context, userID, modelID string) error {
	f.recorded = append(f.recorded, modelID)
	return nil
}

type staticKeys []string

func (s staticKeys) Resolve(ctx context.Context, user domain.User) ([]string, error) { return s, nil }

type fakeGateway struct {
	err  error
	reqs []video.SubmitRequest
}

func (f *fakeGateway) Submit(ctx context.Context, req video.SubmitRequest) (video.SubmitResult, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return video.SubmitResult{}, f.err
	}
	return video.SubmitResult{TaskID: "task-" + req.ModelID, Credential: req.Credentials[0]}, nil
}

type fakeRegistrar struct{ regs []poller.Registration }

func (f *fakeRegistrar) Register(ctx context.Context, reg poller.Registration) error {
	f.regs = append(f.regs, reg)
	return nil
}

type chatLog struct {
	mu    sync.Mutex
	sent  []string
	edits []string
}

func (c *chatLog) Send(ctx context.Context, chatID int64, text string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return 100 + len(c.sent), nil
}

func (c *chatLog) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits = append(c.edits, text)
	return nil
}

func (c *chatLog) SendVideo(ctx context.Context, chatID int64, v notify.VideoMessage) error {
	return nil
}

type fixture struct {
	loop     *Loop
	jobs     *memJobs
	gate     *openGate
	throttle *fakeThrottle
	ledger   *ledger.Memory
	gateway  *fakeGateway
	poller   *fakeRegistrar
	chat     *chatLog
	metrics  *metrics.Metrics
}

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func cost(v int) *int { return &v }

func newFixture(jobs ...domain.Job) *fixture {
	f := &fixture{
		jobs:     newMemJobs(jobs...),
		gate:     &openGate{},
		throttle: &fakeThrottle{},
		ledger:   ledger.NewMemory(),
		gateway:  &fakeGateway{},
		poller:   &fakeRegistrar{},
		chat:     &chatLog{},
		metrics:  metrics.New(),
	}
	users := &memUsers{videos: map[string]int{}, users: map[string]domain.User{
		"free": {ID: "free", Class: domain.ClassFree},
		"pro":  {ID: "pro", Class: domain.ClassPro},
		"unl":  {ID: "unl", Class: domain.ClassUnlimited},
	}}
	f.loop = New(Config{Source: "telegram"}, Deps{
		Jobs:        f.jobs,
		Users:       users,
		Models:      memModels{"kling-v2-1-std": {ModelID: "kling-v2-1-std", CostPro5s: cost(4), CostPro10s: cost(8)}},
		Gate:        f.gate,
		Throttle:    f.throttle,
		Ledger:      f.ledger,
		Credentials: staticKeys{"k1", "k2"},
		Gateway:     f.gateway,
		Poller:      f.poller,
		Notifier:    f.chat,
		Metrics:     f.metrics,
		Now:         func() time.Time { return t0 },
	})
	return f
}

func job(id, user string, created time.Duration) domain.Job {
	return domain.Job{
		ID: id, UserID: user, ModelID: "kling-v2-1-std", ImageURL: "https://img/" + id,
		Prompt: "p", ChatID: 1, CreatedAt: t0.Add(created),
	}
}

func TestStepDispatchesOldestJob(t *testing.T) {
	f := newFixture(job("b", "pro", time.Second), job("a", "pro", 0))
	f.ledger.Set("pro", ledger.Balance{Monthly: 5, Extra: 2})

	delay, outcome := f.loop.Step(context.Background())
	require.Equal(t, OutcomeDispatched, outcome)
	assert.Equal(t, time.Duration(0), delay)

	a := f.jobs.get("a")
	assert.Equal(t, domain.JobStatusProcessing, a.Status)
	assert.Equal(t, "task-kling-v2-1-std", a.ProviderTaskID)
	assert.Equal(t, "k1", a.CredentialUsed)
	assert.Equal(t, 4, a.CreditsCharged)
	assert.Equal(t, 101, a.MessageID)
	assert.Equal(t, domain.JobStatusPending, f.jobs.get("b").Status)

	bal, _ := f.ledger.Balance(context.Background(), "pro")
	assert.Equal(t, ledger.Balance{Monthly: 1, Extra: 2}, bal)
	assert.Equal(t, 1, f.gate.marked)
	require.Len(t, f.poller.regs, 1)
	assert.Equal(t, "a", f.poller.regs[0].JobID)
	assert.Equal(t, 101, f.poller.regs[0].MessageID)
	assert.Equal(t, []string{"kling-v2-1-std"}, f.throttle.recorded)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DispatchedCounter()))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SubmissionCounter("accepted")))
}

func TestStepEditsExistingStatusMessage(t *testing.T) {
	j := job("a", "unl", 0)
	j.MessageID = 55
	f := newFixture(j)
	_, outcome := f.loop.Step(context.Background())
	require.Equal(t, OutcomeDispatched, outcome)
	assert.Equal(t, 55, f.jobs.get("a").MessageID)
	assert.Len(t, f.chat.edits, 1)
	assert.Empty(t, f.chat.sent)
}

func TestStepIdleAndStoreError(t *testing.T) {
	f := newFixture()
	delay, outcome := f.loop.Step(context.Background())
	assert.Equal(t, OutcomeIdle, outcome)
	assert.Equal(t, IdleDelay, delay)

	f.jobs.fetchErr = errors.New("db gone")
	delay, outcome = f.loop.Step(context.Background())
	assert.Equal(t, OutcomeStoreError, outcome)
	assert.Equal(t, ErrorDelay, delay)
}

func TestHeadOfLineBlocking(t *testing.T) {
	f := newFixture(job("a", "pro", 0), job("b", "free", time.Second))
	f.gate.userAllowed = map[string]bool{"free": true}

	delay, outcome := f.loop.Step(context.Background())
	assert.Equal(t, OutcomeUserBusy, outcome)
	assert.Equal(t, BusyDelay, delay)
	assert.Equal(t, domain.JobStatusPending, f.jobs.get("b").Status)
}

func TestBoundedLookAhead(t *testing.T) {
	f := newFixture(job("a", "pro", 0), job("b", "unl", time.Second))
	f.gate.userAllowed = map[string]bool{"unl": true}
	f.loop.cfg.LookAhead = 2

	_, outcome := f.loop.Step(context.Background())
	assert.Equal(t, OutcomeDispatched, outcome)
	assert.Equal(t, domain.JobStatusPending, f.jobs.get("a").Status)
	assert.Equal(t, domain.JobStatusProcessing, f.jobs.get("b").Status)
}

func TestInsufficientCreditsFailsAfterClaim(t *testing.T) {
	f := newFixture(job("a", "free", 0))
	f.ledger.Set("free", ledger.Balance{Monthly: 1, Extra: 2})

	_, outcome := f.loop.Step(context.Background())
	assert.Equal(t, OutcomeFailed, outcome)
	a := f.jobs.get("a")
	assert.Equal(t, domain.JobStatusFailed, a.Status)
	assert.Equal(t, ReasonInsufficientCredits, a.Error)
	assert.Equal(t, []string{"❌ Gagal: Kredit tidak mencukupi saat giliran Anda tiba."}, f.chat.sent)
	assert.Empty(t, f.gateway.reqs)

	bal, _ := f.ledger.Balance(context.Background(), "free")
	assert.Equal(t, 3, bal.Total())
	assert.Equal(t, 0, f.gate.marked, "pacing slot is kept for the next job")
}

func TestExemptClassIsNotDebited(t *testing.T) {
	f := newFixture(job("a", "unl", 0))
	_, outcome := f.loop.Step(context.Background())
	require.Equal(t, OutcomeDispatched, outcome)
	assert.Equal(t, 0, f.jobs.get("a").CreditsCharged)
}

func TestSubmitFailureRefundsAndFails(t *testing.T) {
	f := newFixture(job("a", "pro", 0))
	f.ledger.Set("pro", ledger.Balance{Monthly: 5})
	f.gateway.err = &video.SubmitError{Message: "Invalid image", Attempts: 2}

	_, outcome := f.loop.Step(context.Background())
	assert.Equal(t, OutcomeFailed, outcome)
	a := f.jobs.get("a")
	assert.Equal(t, domain.JobStatusFailed, a.Status)
	assert.Equal(t, "API Error: Invalid image", a.Error)
	assert.Equal(t, []string{"❌ Gagal memproses permintaan: Invalid image"}, f.chat.sent)

	bal, _ := f.ledger.Balance(context.Background(), "pro")
	assert.Equal(t, ledger.Balance{Monthly: 1, Extra: 4}, bal)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SubmissionCounter("failed")))
	assert.Empty(t, f.poller.regs)
}

func TestNoCredentialsFailsJob(t *testing.T) {
	f := newFixture(job("a", "unl", 0))
	f.loop.Credentials = staticKeys{}
	_, outcome := f.loop.Step(context.Background())
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, "API Error: no API keys available", f.jobs.get("a").Error)
	assert.Equal(t, 0, f.gate.marked)
}

func TestCooldownRefusalFailsJob(t *testing.T) {
	j := job("a", "pro", 0)
	j.ModelID = "kling-v2-6-motion-control-std"
	f := newFixture(j)
	f.throttle.decision = cooldown.Decision{Allowed: false, Remaining: 5*time.Minute + 7*time.Second, Cycle: 6}

	_, outcome := f.loop.Step(context.Background())
	assert.Equal(t, OutcomeFailed, outcome)
	a := f.jobs.get("a")
	assert.Equal(t, domain.JobStatusFailed, a.Status)
	assert.Contains(t, a.Error, "5 menit 7 detik")
	assert.Contains(t, a.Error, "batas 6 generate")
	assert.Empty(t, f.gateway.reqs)
	assert.Equal(t, 0, f.gate.marked)
}

func TestMissingImageAndUnknownUser(t *testing.T) {
	noImage := job("a", "pro", 0)
	noImage.ImageURL = ""
	f := newFixture(noImage, job("b", "ghost", time.Second))
	f.loop.cfg.LookAhead = 1

	_, outcome := f.loop.Step(context.Background())
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, ReasonMissingImage, f.jobs.get("a").Error)

	_, outcome = f.loop.Step(context.Background())
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, ReasonUserNotFound, f.jobs.get("b").Error)
	assert.Equal(t, 0, f.gate.marked)
}

func TestLostClaim(t *testing.T) {
	f := newFixture(job("a", "pro", 0))
	f.jobs.stealNext = true
	delay, outcome := f.loop.Step(context.Background())
	assert.Equal(t, OutcomeLostClaim, outcome)
	assert.Equal(t, time.Duration(0), delay)
	assert.Empty(t, f.gateway.reqs)
	assert.Equal(t, 0, f.gate.marked)
}

func TestUnknownPricingIsFree(t *testing.T) {
	j := job("a", "free", 0)
	j.ModelID = "wan-v2-2-720p"
	f := newFixture(j)
	_, outcome := f.loop.Step(context.Background())
	require.Equal(t, OutcomeDispatched, outcome)
	assert.Equal(t, 0, f.jobs.get("a").CreditsCharged)
}

type scriptProvider struct {
	mu    sync.Mutex
	polls int
}

func (s *scriptProvider) Poll(ctx context.Context, modelID, taskID, credential string) (video.PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	if s.polls < 2 {
		return video.PollResult{State: video.StateRunning}, nil
	}
	return video.PollResult{State: video.StateCompleted, ResultURL: "https://provider/out.mp4"}, nil
}

func TestEndToEndPendingToCompleted(t *testing.T) {
	f := newFixture(job("a", "pro", 0))
	f.ledger.Set("pro", ledger.Balance{Monthly: 5, Extra: 2})
	users := f.loop.Users.(*memUsers)

	gate := admission.New(f.jobs, admission.Limits{GlobalConcurrency: 12, GlobalWindow: 15 * time.Minute, StaleAfter: 10 * time.Minute})
	p := poller.New(poller.Config{First: time.Millisecond, Interval: time.Millisecond, MaxDuration: time.Minute}, poller.Deps{
		Provider: &scriptProvider{},
		Jobs:     f.jobs,
		Users:    users,
		Ledger:   f.ledger,
		Notifier: f.chat,
	})
	f.loop.Gate = gate
	f.loop.Poller = p
	f.loop.Now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pollDone := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(pollDone)
	}()

	_, outcome := f.loop.Step(ctx)
	require.Equal(t, OutcomeDispatched, outcome)

	require.Eventually(t, func() bool {
		return f.jobs.get("a").Status == domain.JobStatusCompleted
	}, 2*time.Second, 2*time.Millisecond)

	a := f.jobs.get("a")
	assert.Equal(t, "https://provider/out.mp4", a.OutputURL)
	bal, _ := f.ledger.Balance(context.Background(), "pro")
	assert.Equal(t, ledger.Balance{Monthly: 1, Extra: 2}, bal)

	cancel()
	<-pollDone
	users.mu.Lock()
	assert.Equal(t, 1, users.videos["pro"])
	users.mu.Unlock()
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	wake := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx, wake) }()
	wake <- struct{}{}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

// blockingGateway holds a submission until release closes, then reports the
// request as aborted.
type blockingGateway struct {
	entered chan struct{}
	release <-chan struct{}
	ctxErr  error
}

func (b *blockingGateway) Submit(ctx context.Context, req video.SubmitRequest) (video.SubmitResult, error) {
	b.entered <- struct{}{}
	<-b.release
	b.ctxErr = ctx.Err()
	return video.SubmitResult{}, context.Canceled
}

// cancelAwareJobs refuses writes on a cancelled context like a real pool would.
type cancelAwareJobs struct{ *memJobs }

func (c cancelAwareJobs) Fail(ctx context.Context, id, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.memJobs.Fail(ctx, id, reason)
}

type cancelAwareLedger struct{ *ledger.Memory }

func (c cancelAwareLedger) Refund(ctx context.Context, userID string, amount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Memory.Refund(ctx, userID, amount)
}

func TestShutdownDuringSubmitRefundsAndFails(t *testing.T) {
	f := newFixture(job("a", "pro", 0))
	f.ledger.Set("pro", ledger.Balance{Monthly: 5})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &blockingGateway{entered: make(chan struct{}, 1), release: ctx.Done()}
	f.loop.Gateway = gw
	f.loop.Jobs = cancelAwareJobs{f.jobs}
	f.loop.Ledger = cancelAwareLedger{f.ledger}

	done := make(chan Outcome, 1)
	go func() {
		_, outcome := f.loop.Step(ctx)
		done <- outcome
	}()
	<-gw.entered
	cancel()

	select {
	case outcome := <-done:
		assert.Equal(t, OutcomeFailed, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("step did not return after shutdown")
	}
	assert.NoError(t, gw.ctxErr, "submission runs on a context detached from shutdown")

	a := f.jobs.get("a")
	assert.Equal(t, domain.JobStatusFailed, a.Status)
	assert.Equal(t, "API Error: context canceled", a.Error)
	bal, _ := f.ledger.Balance(context.Background(), "pro")
	assert.Equal(t, ledger.Balance{Monthly: 1, Extra: 4}, bal)
	assert.Equal(t, []string{"❌ Gagal memproses permintaan: context canceled"}, f.chat.sent)
	assert.Equal(t, 1, f.gate.marked)
}
