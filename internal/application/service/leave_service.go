package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/leave-approval/internal/application/dispatcher"
	"github.com/garyjia/leave-approval/internal/application/scheduler"
	"github.com/garyjia/leave-approval/internal/domain/event"
	"github.com/garyjia/leave-approval/internal/domain/leave"
	"github.com/garyjia/leave-approval/pkg/utils"
)

const (
	DefaultApproveComment = "Approved"
	DefaultRejectComment  = "Rejected"
	DefaultDecidedBy      = "manager@example.com"
	DefaultCancelReason   = "Cancelled by requester"

	// RequestIDPrefix prefixes generated request ids
	RequestIDPrefix = "leave-"
)

// InstanceView is one row of List
type InstanceView struct {
	InstanceID    string      `json:"instanceId"`
	State         leave.State `json:"state"`
	RemindersSent int         `json:"remindersSent"`
	Completed     bool        `json:"completed"`
	Halted        bool        `json:"halted"`
}

// History is the audit view of one instance log
type History struct {
	InstanceID string         `json:"instanceId"`
	Events     []*event.Event `json:"events"`
	ChainValid bool           `json:"chainValid"`
	ChainError string         `json:"chainError,omitempty"`
}

// LeaveService is the core-facing contract: submission, signals and read-only queries
type LeaveService interface {
	// Submit creates and starts an instance; an empty RequestID is generated
	Submit(ctx context.Context, req leave.Request) (string, error)

	// Signal delivers a decision or cancellation and returns how it was recorded
	Signal(ctx context.Context, instanceID string, sig leave.Signal) (event.SignalApplied, error)
	Approve(ctx context.Context, instanceID, comment, decidedBy string) (event.SignalApplied, error)
	Reject(ctx context.Context, instanceID, comment, decidedBy string) (event.SignalApplied, error)
	Cancel(ctx context.Context, instanceID, reason string) (event.SignalApplied, error)

	// Query returns the state derived from the appended events; it never appends
	Query(ctx context.Context, instanceID string) (leave.State, error)
	List(ctx context.Context, status *leave.Status) ([]InstanceView, error)
	History(ctx context.Context, instanceID string) (*History, error)

	// Await blocks until the instance completes
	Await(ctx context.Context, instanceID string) (leave.Result, error)

	// Archive retires a completed instance; it answers NotFound afterwards
	Archive(ctx context.Context, instanceID string) error
	ArchiveCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Recover replays every retained instance and resumes the unfinished ones
	Recover(ctx context.Context) (int, error)

	// Shutdown stops every runner without appending
	Shutdown(ctx context.Context) error
}

type leaveServiceImpl struct {
	deps   scheduler.Deps
	timing leave.Timing
	logger *zap.Logger

	mu        sync.Mutex
	instances map[string]*scheduler.Instance
	runCtx    context.Context
	stop      context.CancelFunc
}

// NewLeaveService creates the service. Every appended event is forwarded to events
// when it is non-nil.
func NewLeaveService(deps scheduler.Deps, timing leave.Timing, events dispatcher.Dispatcher, logger *zap.Logger) LeaveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	if events != nil {
		deps.OnAppend = func(_ context.Context, evt *event.Event) {
			events.DispatchAsync(context.Background(), evt)
		}
	}

	runCtx, stop := context.WithCancel(context.Background())
	return &leaveServiceImpl{
		deps:      deps,
		timing:    timing,
		logger:    logger,
		instances: make(map[string]*scheduler.Instance),
		runCtx:    runCtx,
		stop:      stop,
	}
}

func (s *leaveServiceImpl) Submit(ctx context.Context, req leave.Request) (string, error) {
	req.RequestID = strings.TrimSpace(req.RequestID)
	if req.RequestID == "" {
		req.RequestID = RequestIDPrefix + uuid.New().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runCtx.Err() != nil {
		return "", fmt.Errorf("service is shut down")
	}
	if _, exists := s.instances[req.RequestID]; exists {
		return "", fmt.Errorf("%w: %s", leave.ErrAlreadyExists, req.RequestID)
	}

	in, err := scheduler.Create(ctx, s.deps, req, s.timing)
	if err != nil {
		return "", err
	}
	s.instances[req.RequestID] = in
	in.Start(s.runCtx)

	s.logger.Info("Leave request submitted",
		zap.String("instance_id", req.RequestID),
		zap.String("employee", req.EmployeeEmail))
	return req.RequestID, nil
}

// lookup returns the live instance, restoring it from the log when this process has
// not seen it yet. Archived and unknown ids are NotFound.
func (s *leaveServiceImpl) lookup(ctx context.Context, instanceID string) (*scheduler.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in, ok := s.instances[instanceID]; ok {
		return in, nil
	}

	info, err := s.deps.Log.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if info.ArchivedAt != nil {
		return nil, fmt.Errorf("%w: %s is archived", leave.ErrNotFound, instanceID)
	}
	return s.restoreLocked(ctx, instanceID)
}

func (s *leaveServiceImpl) restoreLocked(ctx context.Context, instanceID string) (*scheduler.Instance, error) {
	in, err := scheduler.Restore(ctx, s.deps, instanceID)
	if err != nil {
		return nil, err
	}
	s.instances[instanceID] = in
	if s.runCtx.Err() == nil {
		in.Start(s.runCtx)
	}
	return in, nil
}

func (s *leaveServiceImpl) Signal(ctx context.Context, instanceID string, sig leave.Signal) (event.SignalApplied, error) {
	in, err := s.lookup(ctx, instanceID)
	if err != nil {
		return event.SignalApplied{}, err
	}
	return in.Signal(ctx, sig)
}

func (s *leaveServiceImpl) Approve(ctx context.Context, instanceID, comment, decidedBy string) (event.SignalApplied, error) {
	return s.Signal(ctx, instanceID, leave.DecisionSignal(leave.Decision{
		Approved:  true,
		Comment:   utils.OrDefault(comment, DefaultApproveComment),
		DecidedBy: utils.OrDefault(decidedBy, DefaultDecidedBy),
	}))
}

func (s *leaveServiceImpl) Reject(ctx context.Context, instanceID, comment, decidedBy string) (event.SignalApplied, error) {
	return s.Signal(ctx, instanceID, leave.DecisionSignal(leave.Decision{
		Approved:  false,
		Comment:   utils.OrDefault(comment, DefaultRejectComment),
		DecidedBy: utils.OrDefault(decidedBy, DefaultDecidedBy),
	}))
}

func (s *leaveServiceImpl) Cancel(ctx context.Context, instanceID, reason string) (event.SignalApplied, error) {
	return s.Signal(ctx, instanceID, leave.CancelSignal(utils.OrDefault(reason, DefaultCancelReason)))
}

func (s *leaveServiceImpl) Query(ctx context.Context, instanceID string) (leave.State, error) {
	in, err := s.lookup(ctx, instanceID)
	if err != nil {
		return leave.State{}, err
	}
	return in.State(), nil
}

func (s *leaveServiceImpl) List(ctx context.Context, status *leave.Status) ([]InstanceView, error) {
	infos, err := s.deps.Log.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]InstanceView, 0, len(infos))
	for _, info := range infos {
		in, err := s.lookup(ctx, info.InstanceID)
		if errors.Is(err, leave.ErrNotFound) {
			continue // archived meanwhile
		}
		if err != nil {
			return nil, err
		}
		snap := in.Snapshot()
		if status != nil && snap.State.Status != *status {
			continue
		}
		views = append(views, InstanceView{
			InstanceID:    info.InstanceID,
			State:         snap.Query(),
			RemindersSent: snap.RemindersSent,
			Completed:     snap.Completed,
			Halted:        in.Halted() != nil,
		})
	}
	return views, nil
}

func (s *leaveServiceImpl) History(ctx context.Context, instanceID string) (*History, error) {
	if _, err := s.lookup(ctx, instanceID); err != nil {
		return nil, err
	}
	events, err := s.deps.Log.Load(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	h := &History{InstanceID: instanceID, Events: events, ChainValid: true}
	if err := event.VerifyChain(events); err != nil {
		h.ChainValid = false
		h.ChainError = err.Error()
		s.logger.Error("Event chain verification failed", zap.String("instance_id", instanceID), zap.Error(err))
	}
	return h, nil
}

func (s *leaveServiceImpl) Await(ctx context.Context, instanceID string) (leave.Result, error) {
	in, err := s.lookup(ctx, instanceID)
	if err != nil {
		return leave.Result{}, err
	}
	return in.Await(ctx)
}

func (s *leaveServiceImpl) Archive(ctx context.Context, instanceID string) error {
	in, err := s.lookup(ctx, instanceID)
	if err != nil {
		return err
	}
	if err := in.Archive(ctx, s.deps.Clock.Now().UTC()); err != nil {
		return err
	}

	s.mu.Lock()
	if s.instances[instanceID] == in {
		delete(s.instances, instanceID)
	}
	s.mu.Unlock()

	s.logger.Info("Instance archived", zap.String("instance_id", instanceID))
	return nil
}

func (s *leaveServiceImpl) ArchiveCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	infos, err := s.deps.Log.ListInstances(ctx)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, info := range infos {
		if info.CompletedAt == nil || !info.CompletedAt.Before(cutoff) {
			continue
		}
		if err := s.Archive(ctx, info.InstanceID); err != nil {
			if errors.Is(err, leave.ErrNotFound) {
				continue
			}
			return archived, err
		}
		archived++
	}
	return archived, nil
}

func (s *leaveServiceImpl) Recover(ctx context.Context) (int, error) {
	infos, err := s.deps.Log.ListInstances(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resumed := 0
	for _, info := range infos {
		if _, loaded := s.instances[info.InstanceID]; loaded {
			continue
		}
		in, err := s.restoreLocked(ctx, info.InstanceID)
		if err != nil {
			s.logger.Error("Failed to restore instance",
				zap.String("instance_id", info.InstanceID),
				zap.Error(err))
			continue
		}
		if !in.Snapshot().Completed {
			resumed++
		}
	}

	s.logger.Info("Recovery finished", zap.Int("instances", len(infos)), zap.Int("resumed", resumed))
	return resumed, nil
}

func (s *leaveServiceImpl) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stop()
	running := make([]*scheduler.Instance, 0, len(s.instances))
	for _, in := range s.instances {
		running = append(running, in)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, in := range running {
		wg.Add(1)
		go func(in *scheduler.Instance) {
			defer wg.Done()
			in.Stop()
		}(in)
	}

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("All instance runners stopped", zap.Int("instances", len(running)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}
}
