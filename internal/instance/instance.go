// Package instance implements the per-account upstream worker pool (C3): a
// bounded FIFO queue per speed-mode, a bounded goroutine pool, and the
// running-task/nonce/messageId indexes the event correlator resolves
// against.
package instance

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"quel-drawcore/internal/backend"
	"quel-drawcore/internal/correlator"
	"quel-drawcore/internal/model"
	"quel-drawcore/internal/selector"
	"quel-drawcore/internal/store"
)

var (
	_ selector.InstanceView     = (*Instance)(nil)
	_ correlator.InstanceIndex = (*Instance)(nil)
)

// Producer is the deferred send invoked by a worker once a task reaches the
// head of its mode's queue. It is supplied by the orchestrator, which has
// already resolved which Commander method and arguments the task needs.
type Producer func(ctx context.Context, cmd backend.Commander) (backend.Result, error)

type queueItem struct {
	task     *model.Task
	producer Producer
}

// Instance is the live, running counterpart of a model.Account: the account
// data plus everything needed to schedule and pace commands against it.
type Instance struct {
	account *model.Account
	cmd     backend.Commander
	tasks   store.TaskStore
	log     *zap.Logger

	queues map[model.Mode]chan queueItem

	mu           sync.Mutex
	running      map[string]*model.Task // taskID -> task
	byNonce      map[string]string      // nonce -> taskID
	byMessageID  map[string]string      // messageID -> taskID
	waiters      map[string]chan struct{}
	lastSendAt   time.Time
	burstStarted bool

	clock Clock
	rng   *rand.Rand

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds an Instance bound to account, ready to have its worker pool
// started with Run.
func New(account *model.Account, cmd backend.Commander, tasks store.TaskStore, log *zap.Logger) *Instance {
	queues := make(map[model.Mode]chan queueItem, 3)
	for _, m := range []model.Mode{model.ModeFast, model.ModeRelax, model.ModeTurbo} {
		size := account.QueueSize[m]
		if size <= 0 {
			size = 1
		}
		queues[m] = make(chan queueItem, size)
	}
	return &Instance{
		account:     account,
		cmd:         cmd,
		tasks:       tasks,
		log:         log.With(zap.String("instance", account.ChannelID)),
		queues:      queues,
		running:     make(map[string]*model.Task),
		byNonce:     make(map[string]string),
		byMessageID: make(map[string]string),
		waiters:     make(map[string]chan struct{}),
		clock:       realClock{},
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh:      make(chan struct{}),
	}
}

// SetClock overrides the Clock pace and AcceptsNewTask read against. Tests
// use this to control backoff windows without sleeping in real time.
func (in *Instance) SetClock(c Clock) { in.clock = c }

// Account returns the account this instance wraps.
func (in *Instance) Account() *model.Account { return in.account }

// AcceptsNewTask reports the isAcceptNewTask precondition: connected, not
// asleep, inside work hours.
func (in *Instance) AcceptsNewTask() bool {
	return in.account.Connected && !in.account.Sleeping && in.account.InWorkHours(in.clock.Now())
}

// Queued reports the current depth of the given mode's queue.
func (in *Instance) Queued(mode model.Mode) int {
	q, ok := in.queues[mode]
	if !ok {
		return 0
	}
	return len(q)
}

// Running reports the number of tasks currently occupying a worker.
func (in *Instance) Running() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.running)
}

// IdleBias is a placeholder hook for future per-instance health weighting;
// selector.bestWaitIdle multiplies coreSize by this, so 1.0 is neutral.
func (in *Instance) IdleBias() float64 { return 1.0 }

// Run starts coreSize workers; it returns once ctx is cancelled or Stop is
// called, after draining in-flight workers.
func (in *Instance) Run(ctx context.Context) {
	n := in.account.CoreSize
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		in.wg.Add(1)
		go in.workerLoop(ctx)
	}
	select {
	case <-ctx.Done():
	case <-in.stopCh:
	}
	in.Stop()
	in.wg.Wait()
}

// Stop signals all workers to exit after their current task.
func (in *Instance) Stop() {
	in.stopOnce.Do(func() { close(in.stopCh) })
}

// resolveMode resolves the effective mode for a new task:
// the task's own mode if set and allowed, else the filter's requested
// speed, else the account's current default.
func (in *Instance) resolveMode(task *model.Task) (model.Mode, error) {
	candidates := []model.Mode{task.Mode, task.AccountFilter.Speed, in.account.CurrentMode}
	for _, m := range candidates {
		if m == "" {
			continue
		}
		if in.account.SupportsMode(m) {
			return m, nil
		}
	}
	return "", model.Wrap(model.ErrValidation, "no supported mode")
}

// SubmitTask implements the submitTask(task, producer) → SubmitResult
// contract from spec.md §4.3.
func (in *Instance) SubmitTask(ctx context.Context, task *model.Task, producer Producer) model.SubmitResult {
	if !in.AcceptsNewTask() {
		return model.SubmitResult{Code: model.CodeNotFound, Description: "instance not accepting new tasks"}
	}

	mode, err := in.resolveMode(task)
	if err != nil {
		return model.SubmitResult{Code: model.CodeNotFound, Description: err.Error()}
	}
	task.Mode = mode

	q := in.queues[mode]
	if len(q) >= cap(q) {
		return model.SubmitResult{Code: model.CodeFailure, Description: "queue full"}
	}

	task.Status = model.StatusSubmitted
	task.SubmitTime = time.Now()
	task.InstanceID = in.account.ChannelID
	if err := in.tasks.SaveTask(ctx, task); err != nil {
		return model.SubmitResult{Code: model.CodeFailure, Description: fmt.Sprintf("save task: %v", err)}
	}

	in.mu.Lock()
	in.running[task.ID] = task
	if task.Properties.Nonce != "" {
		in.byNonce[task.Properties.Nonce] = task.ID
	}
	in.mu.Unlock()

	select {
	case q <- queueItem{task: task, producer: producer}:
		return model.SubmitResult{Code: model.CodeSuccess, Result: task.ID, Properties: task.Properties}
	default:
		in.mu.Lock()
		delete(in.running, task.ID)
		in.mu.Unlock()
		return model.SubmitResult{Code: model.CodeFailure, Description: "queue full"}
	}
}

// Dispatch runs fn against this instance's Commander directly, bypassing
// the queue/worker pipeline. Used for fire-and-forget commands (e.g.
// bookmark toggles) that never need a tracked task record.
func (in *Instance) Dispatch(ctx context.Context, fn func(ctx context.Context, cmd backend.Commander) (backend.Result, error)) (backend.Result, error) {
	return fn(ctx, in.cmd)
}

// ResolveNonce exposes the byNonce index for the event correlator.
func (in *Instance) ResolveNonce(nonce string) (string, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	id, ok := in.byNonce[nonce]
	return id, ok
}

// IndexMessageID records that messageID belongs to taskID, once the
// correlator observes the upstream's first reply.
func (in *Instance) IndexMessageID(messageID, taskID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.byMessageID[messageID] = taskID
}

// ResolveMessageID exposes the byMessageId index for the event correlator.
func (in *Instance) ResolveMessageID(messageID string) (string, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	id, ok := in.byMessageID[messageID]
	return id, ok
}

// RunningTask returns the in-flight task record by id. The correlator's
// content-regex fallback uses RunningTasks instead.
func (in *Instance) RunningTask(taskID string) (*model.Task, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	t, ok := in.running[taskID]
	return t, ok
}

// RunningTasks returns a snapshot of every task this instance currently has
// in flight, for the correlator's same-instance content match.
func (in *Instance) RunningTasks() []*model.Task {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]*model.Task, 0, len(in.running))
	for _, t := range in.running {
		out = append(out, t)
	}
	return out
}

// NotifyTerminal wakes up the worker awaiting taskID's terminal event.
// Called by the correlator once it writes a terminal status.
func (in *Instance) NotifyTerminal(taskID string) {
	in.mu.Lock()
	ch, ok := in.waiters[taskID]
	in.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (in *Instance) registerWaiter(taskID string) chan struct{} {
	ch := make(chan struct{})
	in.mu.Lock()
	in.waiters[taskID] = ch
	in.mu.Unlock()
	return ch
}

func (in *Instance) unregisterWaiter(taskID string) {
	in.mu.Lock()
	delete(in.waiters, taskID)
	in.mu.Unlock()
}

func (in *Instance) forget(task *model.Task) {
	in.mu.Lock()
	delete(in.running, task.ID)
	if task.Properties.Nonce != "" {
		delete(in.byNonce, task.Properties.Nonce)
	}
	if task.Properties.MessageID != "" {
		delete(in.byMessageID, task.Properties.MessageID)
	}
	in.mu.Unlock()
}

// pace blocks for the configured backoff window before the next send: the
// account's interval before the first send of a burst, then a uniform
// random wait in [afterIntervalMin, afterIntervalMax] between sends.
func (in *Instance) pace(ctx context.Context) {
	in.mu.Lock()
	first := !in.burstStarted
	in.burstStarted = true
	last := in.lastSendAt
	now := in.clock.Now()

	var wait time.Duration
	if first {
		wait = in.account.IntervalMin
	} else {
		lo, hi := in.account.AfterIntervalMin, in.account.AfterIntervalMax
		if hi <= lo {
			wait = lo
		} else {
			wait = lo + time.Duration(in.rng.Int63n(int64(hi-lo)))
		}
		wait -= now.Sub(last)
	}
	if wait < 0 {
		wait = 0
	}
	in.lastSendAt = now.Add(wait)
	in.mu.Unlock()
	if wait <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-in.clock.After(wait):
	}
}

// workerLoop dequeues with FIFO-per-mode but FAST-over-RELAX-over-TURBO
// overtake priority, per spec.md §5's ordering guarantee.
func (in *Instance) workerLoop(ctx context.Context) {
	defer in.wg.Done()
	fast, relax, turbo := in.queues[model.ModeFast], in.queues[model.ModeRelax], in.queues[model.ModeTurbo]
	for {
		item, ok := dequeue(ctx, in.stopCh, fast, relax, turbo)
		if !ok {
			return
		}
		in.runOne(ctx, item)
	}
}

func dequeue(ctx context.Context, stop <-chan struct{}, fast, relax, turbo chan queueItem) (queueItem, bool) {
	select {
	case it := <-fast:
		return it, true
	default:
	}
	select {
	case it := <-relax:
		return it, true
	default:
	}
	select {
	case it := <-turbo:
		return it, true
	default:
	}
	select {
	case it := <-fast:
		return it, true
	case it := <-relax:
		return it, true
	case it := <-turbo:
		return it, true
	case <-stop:
		return queueItem{}, false
	case <-ctx.Done():
		return queueItem{}, false
	}
}

func (in *Instance) runOne(ctx context.Context, item queueItem) {
	task := item.task
	log := in.log.With(zap.String("task", task.ID), zap.String("action", string(task.Action)))

	task.Status = model.StatusInProgress
	task.StartTime = time.Now()
	if err := in.tasks.SaveTask(ctx, task); err != nil {
		log.Error("save in-progress", zap.Error(err))
	}

	in.pace(ctx)

	result, err := item.producer(ctx, in.cmd)
	if err != nil {
		in.finishFailure(ctx, task, err.Error())
		return
	}

	switch result.Code {
	case backend.CodeSuccess, backend.CodeExisted, backend.CodeInQueue:
		in.awaitTerminal(ctx, task)
	default:
		in.finishFailure(ctx, task, result.Description)
	}
}

func (in *Instance) awaitTerminal(ctx context.Context, task *model.Task) {
	timeout := time.Duration(in.account.TimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	waitCh := in.registerWaiter(task.ID)
	defer in.unregisterWaiter(task.ID)

	select {
	case <-waitCh:
		in.forget(task)
	case <-time.After(timeout):
		in.finishFailure(ctx, task, "timeout")
	case <-ctx.Done():
		in.forget(task)
	}
}

func (in *Instance) finishFailure(ctx context.Context, task *model.Task, reason string) {
	fresh, err := in.tasks.GetTask(ctx, task.ID)
	if err == nil && fresh != nil {
		task = fresh
	}
	if task.Status.IsTerminal() {
		in.forget(task)
		return
	}
	task.Status = model.StatusFailure
	task.FailReason = reason
	task.FinishTime = time.Now()
	if err := in.tasks.SaveTask(ctx, task); err != nil {
		in.log.Error("save failure", zap.String("task", task.ID), zap.Error(err))
	}
	in.forget(task)
}
