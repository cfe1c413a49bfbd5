package indexer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/internal/vector"
)

var (
	// ErrRebuildInProgress rejects a non-forced trigger while a rebuild runs.
	ErrRebuildInProgress = errors.New("rebuild already in progress")
	// ErrSwitchPending rejects background rebuilds while a deferred model switch waits for a manual full rebuild.
	ErrSwitchPending = errors.New("model switch pending: run a forced full rebuild")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator closed")
)

// State is the rebuild state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// SwitchPolicy decides what happens when the configured model identity differs from the stored one.
type SwitchPolicy string

const (
	// SwitchRebuild adopts the new identity and rebuilds everything right away.
	SwitchRebuild SwitchPolicy = "rebuild"
	// SwitchDefer suspends background rebuilds until a manual forced full rebuild.
	SwitchDefer SwitchPolicy = "defer"
)

// TriggerOptions qualify a rebuild request.
type TriggerOptions struct {
	// Force cancels a running rebuild instead of being rejected.
	Force bool
	// Silent marks a background trigger; rejections are logged at debug level.
	Silent bool
	// Source names the trigger for logs (startup, timer, change, settings, manual).
	Source string
}

// RebuildTask is one scheduled rebuild.
type RebuildTask struct {
	ID         string         `json:"id"`
	Generation uint64         `json:"generation"`
	Scope      Scope          `json:"-"`
	Options    TriggerOptions `json:"options"`
	StartedAt  time.Time      `json:"started_at"`

	token *CancelToken
	adopt *models.ModelIdentity
	done  chan struct{}

	mu      sync.Mutex
	state   State
	summary *Summary
	err     error
}

// Done is closed when the task has finished.
func (t *RebuildTask) Done() <-chan struct{} {
	return t.done
}

// Result returns the final state, summary and error once Done is closed.
func (t *RebuildTask) Result() (State, *Summary, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, t.summary, t.err
}

func (t *RebuildTask) finish(state State, summary *Summary, err error) {
	t.mu.Lock()
	t.state, t.summary, t.err = state, summary, err
	t.mu.Unlock()
}

// Status is a display snapshot of the coordinator.
type Status struct {
	State         State                 `json:"state"`
	Processed     int                   `json:"processed"`
	Total         int                   `json:"total"`
	TaskID        string                `json:"task_id,omitempty"`
	Scope         string                `json:"scope,omitempty"`
	StartedAt     *time.Time            `json:"started_at,omitempty"`
	LastState     State                 `json:"last_state,omitempty"`
	LastSummary   *Summary              `json:"last_summary,omitempty"`
	LastError     string                `json:"last_error,omitempty"`
	PendingIDs    int                   `json:"pending_ids"`
	PendingSwitch *models.ModelIdentity `json:"pending_switch,omitempty"`
}

// CoordinatorConfig controls scheduling.
type CoordinatorConfig struct {
	// AbortTimeout is the age after which a running rebuild no longer blocks
	// new triggers. The run is not stopped; it may keep writing until it
	// notices cancellation. Zero disables the check.
	AbortTimeout    time.Duration
	Debounce        time.Duration
	RefreshInterval time.Duration
	SwitchPolicy    SwitchPolicy
}

// Coordinator owns the single rebuild worker: the running task, its
// cancellation token, the generation counter, the pending change set and the timers.
type Coordinator struct {
	builder *Builder
	store   storage.Store
	index   *vector.MemoryIndex
	cfg     CoordinatorConfig
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	closed        bool
	current       *RebuildTask
	generation    uint64
	processed     int
	total         int
	lastState     State
	lastSummary   *Summary
	lastErr       error
	pending       map[string]struct{}
	debounce      *time.Timer
	pendingSwitch *models.ModelIdentity
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(l *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator creates a coordinator. Call Start to run the startup sweep and timers.
func NewCoordinator(builder *Builder, store storage.Store, index *vector.MemoryIndex, cfg CoordinatorConfig, opts ...CoordinatorOption) *Coordinator {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.SwitchPolicy == "" {
		cfg.SwitchPolicy = SwitchRebuild
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		builder: builder,
		store:   store,
		index:   index,
		cfg:     cfg,
		logger:  zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// stale reports whether t has outlived the abort timeout. Caller holds c.mu.
func (c *Coordinator) stale(t *RebuildTask) bool {
	return c.cfg.AbortTimeout > 0 && time.Since(t.StartedAt) > c.cfg.AbortTimeout
}

// Running reports whether a live rebuild is in progress.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && !c.stale(c.current)
}

// Trigger requests a rebuild of scope. A non-forced trigger while a rebuild
// runs fails with ErrRebuildInProgress; a forced one cancels the running task
// and starts once it has stopped. IDs of a superseded targeted run are not carried over.
func (c *Coordinator) Trigger(scope Scope, opts TriggerOptions) (*RebuildTask, error) {
	return c.trigger(scope, opts, nil)
}

func (c *Coordinator) trigger(scope Scope, opts TriggerOptions, adopt *models.ModelIdentity) (*RebuildTask, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if adopt == nil && c.pendingSwitch != nil {
		if !(opts.Force && scope.Full) {
			c.mu.Unlock()
			c.reject(opts, ErrSwitchPending)
			return nil, ErrSwitchPending
		}
		adopt = c.pendingSwitch
		c.pendingSwitch = nil
	}
	prev := c.current
	if prev != nil && !c.stale(prev) && !opts.Force {
		c.mu.Unlock()
		c.reject(opts, ErrRebuildInProgress)
		return nil, ErrRebuildInProgress
	}

	var waitFor <-chan struct{}
	if prev != nil {
		prev.token.Cancel()
		if !c.stale(prev) {
			waitFor = prev.done
		} else {
			c.logger.Warn("superseding stale rebuild",
				zap.String("task_id", prev.ID),
				zap.Duration("age", time.Since(prev.StartedAt)))
		}
	}
	c.generation++
	task := &RebuildTask{
		ID:         uuid.NewString(),
		Generation: c.generation,
		Scope:      scope,
		Options:    opts,
		StartedAt:  time.Now(),
		token:      NewCancelToken(),
		adopt:      adopt,
		done:       make(chan struct{}),
		state:      StateRunning,
	}
	c.current = task
	c.processed, c.total = 0, 0
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("rebuild triggered",
		zap.String("task_id", task.ID),
		zap.String("scope", scope.String()),
		zap.String("source", opts.Source),
		zap.Bool("force", opts.Force))
	go c.execute(task, waitFor)
	return task, nil
}

func (c *Coordinator) reject(opts TriggerOptions, err error) {
	if opts.Silent {
		c.logger.Debug("background rebuild dropped", zap.String("source", opts.Source), zap.Error(err))
		return
	}
	c.logger.Warn("rebuild rejected", zap.String("source", opts.Source), zap.Error(err))
}

func (c *Coordinator) execute(task *RebuildTask, waitFor <-chan struct{}) {
	defer c.wg.Done()
	defer close(task.done)

	if waitFor != nil {
		select {
		case <-waitFor:
		case <-task.token.Done():
			// done is what the next task waits on; it must not close while
			// the predecessor still runs.
			select {
			case <-waitFor:
			case <-c.ctx.Done():
			}
			c.complete(task, StateCancelled, &Summary{Scope: task.Scope.String()}, ErrCancelled)
			return
		case <-c.ctx.Done():
			c.complete(task, StateCancelled, &Summary{Scope: task.Scope.String()}, c.ctx.Err())
			return
		}
	}

	if task.adopt != nil {
		if err := c.store.UseIdentity(c.ctx, *task.adopt); err != nil {
			c.complete(task, StateFailed, &Summary{Scope: task.Scope.String()}, err)
			return
		}
	}

	summary, err := c.builder.Run(c.ctx, task.Scope, task.token, func(processed, total int) {
		c.mu.Lock()
		if c.generation == task.Generation {
			c.processed, c.total = processed, total
		}
		c.mu.Unlock()
	})

	state := StateCompleted
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		state = StateCancelled
	case err != nil:
		state = StateFailed
	}
	c.complete(task, state, summary, err)
}

func (c *Coordinator) complete(task *RebuildTask, state State, summary *Summary, err error) {
	task.finish(state, summary, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != task.Generation {
		return
	}
	c.current = nil
	c.lastState, c.lastSummary, c.lastErr = state, summary, err
}

// Wait blocks until task finishes or ctx is done.
func (c *Coordinator) Wait(ctx context.Context, task *RebuildTask) (State, *Summary, error) {
	select {
	case <-task.Done():
		return task.Result()
	case <-ctx.Done():
		return StateRunning, nil, ctx.Err()
	}
}

// Cancel cancels the running rebuild, if any.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.token.Cancel()
	}
}

// Status returns a snapshot for display.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:       StateIdle,
		LastState:   c.lastState,
		LastSummary: c.lastSummary,
		PendingIDs:  len(c.pending),
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.pendingSwitch != nil {
		id := *c.pendingSwitch
		st.PendingSwitch = &id
	}
	if t := c.current; t != nil {
		started := t.StartedAt
		st.State = StateRunning
		st.Processed, st.Total = c.processed, c.total
		st.TaskID = t.ID
		st.Scope = t.Scope.String()
		st.StartedAt = &started
	}
	return st
}

// NotifyChanged records changed document IDs. After the debounce delay the
// collected set is rebuilt as one silent targeted rebuild; if that is
// rejected the IDs stay queued for the next flush.
func (c *Coordinator) NotifyChanged(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	for _, id := range ids {
		c.pending[id] = struct{}{}
	}
	c.scheduleFlushLocked()
}

func (c *Coordinator) scheduleFlushLocked() {
	if c.debounce == nil {
		c.debounce = time.AfterFunc(c.cfg.Debounce, c.flush)
		return
	}
	c.debounce.Reset(c.cfg.Debounce)
}

func (c *Coordinator) flush() {
	c.mu.Lock()
	c.debounce = nil
	if c.closed || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.pending = make(map[string]struct{})
	c.mu.Unlock()

	sort.Strings(ids)
	if _, err := c.Trigger(TargetedScope(ids...), TriggerOptions{Silent: true, Source: "change"}); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || errors.Is(err, ErrSwitchPending) {
			return
		}
		for _, id := range ids {
			c.pending[id] = struct{}{}
		}
		c.scheduleFlushLocked()
	}
}

// SettingsChanged compares identity with the stored one and applies the
// switch policy. New models are always adopted with a forced full rebuild.
func (c *Coordinator) SettingsChanged(ctx context.Context, identity models.ModelIdentity) error {
	change, err := c.store.CompareIdentity(ctx, identity)
	if err != nil {
		return err
	}
	log := c.logger.With(zap.String("identity", identity.String()), zap.String("change", change.String()))
	switch change {
	case models.IdentityUnchanged:
		c.mu.Lock()
		c.pendingSwitch = nil
		c.mu.Unlock()
		return nil
	case models.IdentityVersionBumped, models.IdentityBlockSizeChanged:
		if c.cfg.SwitchPolicy == SwitchDefer {
			c.mu.Lock()
			c.pendingSwitch = &identity
			c.mu.Unlock()
			log.Warn("model identity changed; background rebuilds suspended until a forced full rebuild")
			return nil
		}
	}
	log.Info("adopting model identity")
	c.mu.Lock()
	c.pendingSwitch = nil
	c.mu.Unlock()
	_, err = c.trigger(FullScope(), TriggerOptions{Force: true, Silent: true, Source: "settings"}, &identity)
	return err
}

// Start loads the index, reconciles the model identity, runs the startup sweep and
// starts the refresh timer. The timer stops when ctx is done or on Close.
func (c *Coordinator) Start(ctx context.Context, identity models.ModelIdentity) error {
	if err := Reload(ctx, c.store, c.index); err != nil {
		return err
	}
	change, err := c.store.CompareIdentity(ctx, identity)
	if err != nil {
		return err
	}
	if change != models.IdentityUnchanged {
		if err := c.SettingsChanged(ctx, identity); err != nil {
			return err
		}
	} else if _, err := c.Trigger(FullScope(), TriggerOptions{Silent: true, Source: "startup"}); err != nil &&
		!errors.Is(err, ErrRebuildInProgress) && !errors.Is(err, ErrSwitchPending) {
		return err
	}

	if c.cfg.RefreshInterval <= 0 {
		return nil
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _ = c.Trigger(FullScope(), TriggerOptions{Silent: true, Source: "timer"})
			case <-ctx.Done():
				return
			case <-c.ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close cancels the running rebuild, stops timers and waits for the worker to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	if c.current != nil {
		c.current.token.Cancel()
	}
	c.mu.Unlock()
	c.cancel()
	c.wg.Wait()
}
