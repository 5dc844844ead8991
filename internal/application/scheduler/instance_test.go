package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/activity"
	"github.com/garyjia/leave-approval/internal/domain/event"
	"github.com/garyjia/leave-approval/internal/domain/leave"
	"github.com/garyjia/leave-approval/internal/domain/workflow"
	"github.com/garyjia/leave-approval/internal/infrastructure/persistence/memory"
)

const day = 24 * time.Hour

type recordingNotifier struct {
	mu           sync.Mutex
	approver     int
	reminders    []int
	employee     []leave.Result
	failReminder bool
	attempts     int
	entered      chan struct{}
	gate         chan struct{}
}

func (n *recordingNotifier) NotifyApprover(ctx context.Context, req leave.Request) error {
	if n.entered != nil {
		select {
		case n.entered <- struct{}{}:
		default:
		}
	}
	if n.gate != nil {
		select {
		case <-n.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approver++
	return nil
}

func (n *recordingNotifier) SendReminder(ctx context.Context, req leave.Request, seq int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts++
	if n.failReminder {
		return errors.New("mailbox full")
	}
	n.reminders = append(n.reminders, seq)
	return nil
}

func (n *recordingNotifier) NotifyEmployee(ctx context.Context, req leave.Request, result leave.Result) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.employee = append(n.employee, result)
	return nil
}

func (n *recordingNotifier) counts() (int, []int, []leave.Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.approver, append([]int(nil), n.reminders...), append([]leave.Result(nil), n.employee...)
}

func (n *recordingNotifier) reminderAttempts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.attempts
}

// flakyLog fails every append once failing is set
type flakyLog struct {
	*memory.EventLog
	failing atomic.Bool
}

func (l *flakyLog) Append(ctx context.Context, evt *event.Event) error {
	if l.failing.Load() {
		return errors.New("disk I/O error")
	}
	return l.EventLog.Append(ctx, evt)
}

type harness struct {
	t        *testing.T
	clock    clockwork.FakeClock
	log      *flakyLog
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:        t,
		clock:    clockwork.NewFakeClockAt(t0),
		log:      &flakyLog{EventLog: memory.NewEventLog()},
		notifier: &recordingNotifier{},
	}
}

func (h *harness) deps() Deps {
	policy := activity.Policy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxAttempts: 2}
	return Deps{
		Log:      h.log,
		Notifier: h.notifier,
		Invoker:  activity.NewInvoker(policy, h.clock, zap.NewNop()),
		Clock:    h.clock,
		Logger:   zap.NewNop(),
	}
}

func request(id string) leave.Request {
	return leave.Request{
		RequestID:     id,
		EmployeeName:  "Yamada Taro",
		EmployeeEmail: "yamada@example.com",
		StartDate:     "2024-12-20",
		EndDate:       "2024-12-25",
		Reason:        "Year-end holidays",
		ApproverEmail: "manager@example.com",
	}
}

func (h *harness) start(id string) *Instance {
	h.t.Helper()
	in, err := Create(context.Background(), h.deps(), request(id), leave.DefaultTiming())
	require.NoError(h.t, err)
	in.Start(context.Background())
	h.t.Cleanup(in.Stop)
	return in
}

func (h *harness) restore(id string) *Instance {
	h.t.Helper()
	in, err := Restore(context.Background(), h.deps(), id)
	require.NoError(h.t, err)
	in.Start(context.Background())
	h.t.Cleanup(in.Stop)
	return in
}

func (h *harness) await(in *Instance) leave.Result {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := in.Await(ctx)
	require.NoError(h.t, err)
	return result
}

// advance waits for the wait loop to park on its timer, then moves time forward
func (h *harness) advance(d time.Duration) {
	h.clock.BlockUntil(1)
	h.clock.Advance(d)
}

func (h *harness) events(id string) []*event.Event {
	h.t.Helper()
	events, err := h.log.Load(context.Background(), id)
	require.NoError(h.t, err)
	return events
}

func types(events []*event.Event) []event.Type {
	out := make([]event.Type, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func countType(events []*event.Event, t event.Type) int {
	n := 0
	for _, e := range events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func approve(comment string) leave.Signal {
	return leave.DecisionSignal(leave.Decision{Approved: true, Comment: comment, DecidedBy: "m"})
}

func TestInstance_SubmitIsPending(t *testing.T) {
	h := newHarness(t)
	in := h.start("leave-001")

	state := in.State()
	assert.Equal(t, leave.StatusPending, state.Status)
	assert.Nil(t, state.Decision)
	assert.Equal(t, t0, state.SubmittedAt)
	assert.Equal(t, "2024-12-20", state.Request.StartDate)

	h.clock.BlockUntil(1)
	approver, _, _ := h.notifier.counts()
	assert.Equal(t, 1, approver)
}

func TestInstance_ApproveBeforeReminder(t *testing.T) {
	h := newHarness(t)
	in := h.start("leave-001")
	h.clock.BlockUntil(1)

	applied, err := in.Signal(context.Background(), approve("OK"))
	require.NoError(t, err)
	assert.True(t, applied.Applied)
	assert.Equal(t, leave.StatusApproved, applied.ResultingStatus)

	result := h.await(in)
	assert.Equal(t, leave.StatusApproved, result.Status)

	state := in.State()
	assert.Equal(t, leave.StatusApproved, state.Status)
	assert.Equal(t, &leave.Decision{Approved: true, Comment: "OK", DecidedBy: "m"}, state.Decision)

	_, reminders, employee := h.notifier.counts()
	assert.Empty(t, reminders)
	require.Len(t, employee, 1)
	assert.Equal(t, leave.StatusApproved, employee[0].Status)

	assert.Equal(t, []event.Type{
		event.TypeStarted,
		event.TypeActivityCompleted,
		event.TypeSignalApplied,
		event.TypeActivityCompleted,
		event.TypeCompleted,
	}, types(h.events("leave-001")))
}

func TestInstance_TimesOutAfterTwoReminders(t *testing.T) {
	h := newHarness(t)
	in := h.start("leave-001")

	h.advance(day)
	h.advance(day)
	h.advance(day)

	result := h.await(in)
	assert.Equal(t, leave.StatusTimeout, result.Status)
	assert.Equal(t, leave.StatusTimeout, in.State().Status)
	assert.Nil(t, in.State().Decision)

	_, reminders, employee := h.notifier.counts()
	assert.Equal(t, []int{1, 2}, reminders)
	require.Len(t, employee, 1)

	events := h.events("leave-001")
	assert.Equal(t, 2, countType(events, event.TypeReminderSent))
	assert.Equal(t, 1, countType(events, event.TypeTimedOut))

	var sentAt []time.Time
	for _, e := range events {
		switch e.Type {
		case event.TypeReminderSent:
			sentAt = append(sentAt, e.RecordedAt)
		case event.TypeTimedOut:
			assert.Equal(t, t0.Add(3*day), e.RecordedAt)
		}
	}
	assert.Equal(t, []time.Time{t0.Add(day), t0.Add(2 * day)}, sentAt)
}

func TestInstance_CancelStopsReminders(t *testing.T) {
	h := newHarness(t)
	in := h.start("leave-001")
	h.clock.BlockUntil(1)

	_, err := in.Signal(context.Background(), leave.CancelSignal("personal"))
	require.NoError(t, err)
	h.await(in)

	h.clock.Advance(3 * day)

	state := in.State()
	assert.Equal(t, leave.StatusCancelled, state.Status)
	assert.Equal(t, "personal", state.CancelReason)
	_, reminders, _ := h.notifier.counts()
	assert.Empty(t, reminders)
	assert.Zero(t, countType(h.events("leave-001"), event.TypeReminderSent))
}

func TestInstance_SecondDecisionIgnored(t *testing.T) {
	h := newHarness(t)
	in := h.start("leave-001")
	h.clock.BlockUntil(1)

	_, err := in.Signal(context.Background(), approve("OK"))
	require.NoError(t, err)
	second, err := in.Signal(context.Background(), leave.DecisionSignal(leave.Decision{Approved: false, DecidedBy: "m"}))
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, leave.StatusApproved, second.ResultingStatus)

	result := h.await(in)
	assert.Equal(t, leave.StatusApproved, result.Status)
	assert.True(t, result.Decision.Approved)
	assert.Equal(t, 2, countType(h.events("leave-001"), event.TypeSignalApplied))
}

func TestInstance_SignalAfterCompletionIsAudited(t *testing.T) {
	h := newHarness(t)
	in := h.start("leave-001")
	h.advance(day)
	h.advance(day)
	h.advance(day)
	h.await(in)

	late, err := in.Signal(context.Background(), approve("too late"))
	require.NoError(t, err)
	assert.False(t, late.Applied)
	assert.Equal(t, leave.StatusTimeout, in.State().Status)

	events := h.events("leave-001")
	assert.Equal(t, event.TypeSignalApplied, events[len(events)-1].Type)
}

func TestInstance_QueryDoesNotWaitOnActivities(t *testing.T) {
	h := newHarness(t)
	h.notifier.entered = make(chan struct{}, 1)
	h.notifier.gate = make(chan struct{})
	in := h.start("leave-001")
	<-h.notifier.entered

	assert.Equal(t, leave.StatusPending, in.State().Status)

	// a decision may arrive while the approver notification is still in flight
	_, err := in.Signal(context.Background(), approve("quick"))
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, in.State().Status)

	close(h.notifier.gate)
	result := h.await(in)
	assert.Equal(t, leave.StatusApproved, result.Status)
	approver, _, employee := h.notifier.counts()
	assert.Equal(t, 1, approver)
	assert.Len(t, employee, 1)
}

func TestInstance_FailedReminderStillAdvancesSchedule(t *testing.T) {
	h := newHarness(t)
	h.notifier.failReminder = true
	in := h.start("leave-001")

	h.advance(day)
	h.advance(day)
	h.advance(day)
	result := h.await(in)
	assert.Equal(t, leave.StatusTimeout, result.Status)

	events := h.events("leave-001")
	assert.Equal(t, 2, countType(events, event.TypeActivityFailed))
	assert.Equal(t, 2, countType(events, event.TypeReminderSent))
	assert.True(t, in.Snapshot().ActivityDone(event.ActivitySendReminder, 2))
}

func TestInstance_RecoveryResumesWithoutRepeatingActivities(t *testing.T) {
	h := newHarness(t)
	first := h.start("leave-001")
	h.advance(day)
	h.clock.BlockUntil(1)
	first.Stop()

	approver, reminders, _ := h.notifier.counts()
	require.Equal(t, 1, approver)
	require.Equal(t, []int{1}, reminders)

	second := h.restore("leave-001")
	assert.Equal(t, 1, second.Snapshot().RemindersSent)

	h.advance(day)
	h.advance(day)
	result := h.await(second)
	assert.Equal(t, leave.StatusTimeout, result.Status)

	approver, reminders, employee := h.notifier.counts()
	assert.Equal(t, 1, approver, "approver must not be notified again after recovery")
	assert.Equal(t, []int{1, 2}, reminders)
	assert.Len(t, employee, 1)

	events := h.events("leave-001")
	assert.Equal(t, 2, countType(events, event.TypeReminderSent))
	assert.NoError(t, event.VerifyChain(events))

	replayed, err := workflow.Replay(events)
	require.NoError(t, err)
	assert.Equal(t, second.Snapshot(), replayed)
}

func TestInstance_RecoveryAfterDowntimeCatchesUp(t *testing.T) {
	h := newHarness(t)
	first := h.start("leave-001")
	h.clock.BlockUntil(1)
	first.Stop()

	// down across both reminder deadlines but not the timeout
	h.clock.Advance(60 * time.Hour)

	second := h.restore("leave-001")
	h.advance(12 * time.Hour)
	result := h.await(second)
	assert.Equal(t, leave.StatusTimeout, result.Status)

	_, reminders, _ := h.notifier.counts()
	assert.Equal(t, []int{1, 2}, reminders)

	// downtime past the timeout goes straight to timeout
	h2 := newHarness(t)
	third := h2.start("leave-002")
	h2.clock.BlockUntil(1)
	third.Stop()
	h2.clock.Advance(4 * day)
	assert.Equal(t, leave.StatusTimeout, h2.await(h2.restore("leave-002")).Status)
	_, reminders, _ = h2.notifier.counts()
	assert.Empty(t, reminders)
}

func TestInstance_RecoveryDoesNotResendRecordedReminder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := "leave-001"

	// crashed after the reminder activity completed but before ReminderSent
	log := []*event.Event{
		event.NewStarted(id, request(id), t0, leave.DefaultTiming()),
		event.NewActivityCompleted(id, event.ActivityNotifyApprover, 0, t0),
		event.NewActivityCompleted(id, event.ActivitySendReminder, 1, t0.Add(day)),
	}
	for i, e := range log {
		e.Sequence = int64(i + 1)
		require.NoError(t, h.log.Append(ctx, e))
	}
	h.clock.Advance(30 * time.Hour)

	in := h.restore(id)
	h.clock.BlockUntil(1)

	approver, reminders, _ := h.notifier.counts()
	assert.Zero(t, approver)
	assert.Empty(t, reminders)
	assert.Equal(t, 1, in.Snapshot().RemindersSent)
	assert.Equal(t, event.TypeReminderSent, h.events(id)[3].Type)
}

func TestInstance_DurabilityFailureHalts(t *testing.T) {
	h := newHarness(t)
	in := h.start("leave-001")
	h.clock.BlockUntil(1)

	h.log.failing.Store(true)
	_, err := in.Signal(context.Background(), approve("OK"))
	assert.True(t, errors.Is(err, leave.ErrHalted))
	assert.Equal(t, leave.StatusPending, in.State().Status, "unpersisted transitions are never visible")
	assert.Error(t, in.Halted())

	_, err = in.Signal(context.Background(), approve("again"))
	assert.True(t, errors.Is(err, leave.ErrHalted))

	_, err = in.Await(context.Background())
	assert.True(t, errors.Is(err, leave.ErrHalted))
}

func TestCreate_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bad := request("leave-001")
	bad.EmployeeEmail = "not-an-email"
	_, err := Create(ctx, h.deps(), bad, leave.DefaultTiming())
	assert.True(t, errors.Is(err, leave.ErrValidation))

	_, err = Create(ctx, h.deps(), request("leave-001"), leave.Timing{})
	assert.True(t, errors.Is(err, leave.ErrValidation))

	_, err = Create(ctx, h.deps(), request("leave-001"), leave.DefaultTiming())
	require.NoError(t, err)
	_, err = Create(ctx, h.deps(), request("leave-001"), leave.DefaultTiming())
	assert.True(t, errors.Is(err, leave.ErrAlreadyExists))
	assert.False(t, errors.Is(err, leave.ErrHalted))
}

func TestInstance_InvalidSignalRejected(t *testing.T) {
	h := newHarness(t)
	in := h.start("leave-001")

	_, err := in.Signal(context.Background(), leave.Signal{Kind: leave.SignalCancel})
	assert.True(t, errors.Is(err, leave.ErrValidation))
	assert.Zero(t, countType(h.events("leave-001"), event.TypeSignalApplied))
}

// realClockInstance runs an instance on the wall clock with retries capped only by time
func realClockInstance(t *testing.T, log *flakyLog, n *recordingNotifier, timing leave.Timing) *Instance {
	t.Helper()
	clock := clockwork.NewRealClock()
	policy := activity.Policy{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond}
	deps := Deps{
		Log:      log,
		Notifier: n,
		Invoker:  activity.NewInvoker(policy, clock, zap.NewNop()),
		Clock:    clock,
		Logger:   zap.NewNop(),
	}
	in, err := Create(context.Background(), deps, request("leave-001"), timing)
	require.NoError(t, err)
	in.Start(context.Background())
	t.Cleanup(in.Stop)
	return in
}

func TestInstance_DecisionEndsFailingReminderRetries(t *testing.T) {
	log := &flakyLog{EventLog: memory.NewEventLog()}
	n := &recordingNotifier{failReminder: true}
	timing := leave.Timing{ReminderInterval: 50 * time.Millisecond, ApprovalTimeout: 5 * time.Second, TaskQueue: leave.DefaultTaskQueue}
	in := realClockInstance(t, log, n, timing)

	require.Eventually(t, func() bool { return n.reminderAttempts() >= 2 }, 2*time.Second, 5*time.Millisecond)
	_, err := in.Signal(context.Background(), approve("OK"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := in.Await(ctx)
	require.NoError(t, err, "the decision must complete without waiting out reminder retries")
	assert.Equal(t, leave.StatusApproved, result.Status)

	events, err := log.Load(context.Background(), "leave-001")
	require.NoError(t, err)
	assert.Zero(t, countType(events, event.TypeReminderSent))
	assert.Zero(t, countType(events, event.TypeTimedOut))
	require.Equal(t, 1, countType(events, event.TypeActivityFailed))
	for _, e := range events {
		if e.Type == event.TypeActivityFailed {
			assert.Equal(t, event.ActivitySendReminder, e.Activity.Name)
			assert.Contains(t, e.Activity.Error, activity.ErrSuperseded.Error())
		}
	}
}

func TestInstance_FailingReminderDoesNotDelayTimeout(t *testing.T) {
	log := &flakyLog{EventLog: memory.NewEventLog()}
	n := &recordingNotifier{failReminder: true}
	timing := leave.Timing{ReminderInterval: 100 * time.Millisecond, ApprovalTimeout: 400 * time.Millisecond, TaskQueue: leave.DefaultTaskQueue}
	in := realClockInstance(t, log, n, timing)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	result, err := in.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusTimeout, result.Status)

	deadline := in.Snapshot().TimeoutAt()
	events, err := log.Load(context.Background(), "leave-001")
	require.NoError(t, err)
	require.Equal(t, 1, countType(events, event.TypeTimedOut))
	for _, e := range events {
		switch e.Type {
		case event.TypeReminderSent:
			assert.True(t, e.RecordedAt.Before(deadline), "reminder %d recorded after the deadline", e.Reminder.Sequence)
		case event.TypeTimedOut:
			assert.WithinDuration(t, deadline, e.RecordedAt, 90*time.Millisecond)
		}
	}
}

func TestInstance_ResultStampedWithDecisionTime(t *testing.T) {
	h := newHarness(t)
	in := h.start("leave-001")
	h.clock.BlockUntil(1)

	_, err := in.Signal(context.Background(), approve("OK"))
	require.NoError(t, err)
	result := h.await(in)
	assert.Equal(t, t0, result.CompletedAt)

	// crash after the employee was told but before Completed was appended
	events := h.events("leave-001")
	require.Equal(t, event.TypeCompleted, events[len(events)-1].Type)
	h2 := newHarness(t)
	h2.clock.Advance(2 * time.Hour)
	for _, e := range events[:len(events)-1] {
		require.NoError(t, h2.log.Append(context.Background(), e.Clone()))
	}

	resumed := h2.restore("leave-001")
	replayed := h2.await(resumed)
	assert.Equal(t, result, replayed)
	_, _, employee := h2.notifier.counts()
	assert.Empty(t, employee, "the employee notification is not repeated")
}

func TestInstance_ArchiveRefusesLaterAppends(t *testing.T) {
	h := newHarness(t)
	in := h.start("leave-001")
	h.clock.BlockUntil(1)
	ctx := context.Background()

	err := in.Archive(ctx, t0)
	assert.True(t, errors.Is(err, leave.ErrNotCompleted))

	_, err = in.Signal(ctx, approve("OK"))
	require.NoError(t, err)
	h.await(in)
	require.NoError(t, in.Archive(ctx, t0.Add(time.Hour)))
	before := len(h.events("leave-001"))

	// a caller still holding the instance must not append to an archived log
	_, err = in.Signal(ctx, leave.CancelSignal("too late"))
	assert.True(t, errors.Is(err, leave.ErrNotFound))
	assert.Len(t, h.events("leave-001"), before)

	err = in.Archive(ctx, t0.Add(2*time.Hour))
	assert.True(t, errors.Is(err, leave.ErrNotFound))
}
