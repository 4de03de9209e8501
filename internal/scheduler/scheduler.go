// Package scheduler implements the Task Scheduler (C4): it turns a
// sessions.prompt call into a running executor subprocess, keeps the
// process-wide task_id -> RunningExecution mapping spec.md §4.4 describes,
// enforces the one-running-task-per-session and parallel-sessions-cap
// concurrency rules, and reconciles orphaned tasks on daemon restart.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/appctx"
	"github.com/agor/agor/internal/common/config"
	"github.com/agor/agor/internal/common/constants"
	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/internal/store"
	"github.com/agor/agor/internal/sysprompt"
	v1 "github.com/agor/agor/pkg/api/v1"
)

// Store is the subset of internal/store.Store the scheduler needs.
type Store interface {
	CreateTask(ctx context.Context, task *v1.Task) error
	GetTask(ctx context.Context, id string) (*v1.Task, error)
	RunningTaskForSession(ctx context.Context, sessionID string) (*v1.Task, error)
	ListRunningTasks(ctx context.Context) ([]*v1.Task, error)
	PatchTask(ctx context.Context, id string, patch store.TaskPatch) (*v1.Task, error)
	GetSession(ctx context.Context, id string) (*v1.Session, error)
}

// TokenSigner mints the short-lived session token an executor subprocess
// authenticates with (spec.md §4.4 step 2, §6 bearer token scheme).
type TokenSigner interface {
	SignExecutorToken(sessionID, taskID string) (string, error)
}

// runningExecution is the in-memory record spec.md §4.4 calls
// "child_process_handle, cancellation_signal, started_at".
type runningExecution struct {
	cmd       *exec.Cmd
	startedAt time.Time
	sessionID string
	cancelled bool
	done      chan struct{}
}

// Scheduler owns every in-flight Task's executor subprocess.
type Scheduler struct {
	mu      sync.Mutex
	running map[string]*runningExecution // taskID -> execution

	store     Store
	signer    TokenSigner
	cfg       config.ExecutorConfig
	daemonURL string
	sem       *semaphore.Weighted
	log       *logger.Logger
}

// New constructs a Scheduler. daemonURL is the address executor subprocesses
// reach the daemon's RPC surface at (spec.md §4.4 step 2).
func New(st Store, signer TokenSigner, cfg config.ExecutorConfig, daemonURL string, log *logger.Logger) *Scheduler {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Scheduler{
		running:   make(map[string]*runningExecution),
		store:     st,
		signer:    signer,
		cfg:       cfg,
		daemonURL: daemonURL,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		log:       log.WithFields(zap.String("component", "scheduler")),
	}
}

// EnqueuePrompt implements sessions.prompt's scheduling half (spec.md §4.4
// steps 1-3): it creates the pending Task and returns immediately, spawning
// the executor subprocess on a background goroutine once a concurrency slot
// is free. A session with an already-running Task is rejected with Busy.
func (s *Scheduler) EnqueuePrompt(ctx context.Context, sessionID string, req v1.PromptRequest) (*v1.Task, error) {
	existing, err := s.store.RunningTaskForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Busy(sessionID)
	}

	task := &v1.Task{
		SessionID:   sessionID,
		Status:      v1.TaskPending,
		Description: describePrompt(req.Prompt),
		Prompt:      req.Prompt,
	}
	if req.Model != "" {
		task.ResolvedModel = &req.Model
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	go s.run(task.SessionID, task.ID, req)

	return task, nil
}

func describePrompt(prompt string) string {
	runes := []rune(prompt)
	const maxLen = 80
	if len(runes) <= maxLen {
		return prompt
	}
	return string(runes[:maxLen]) + "…"
}

// run acquires a concurrency slot, spawns the executor, and supervises it
// to exit, updating the Task's terminal status exactly once (spec.md §4.4
// step 4).
func (s *Scheduler) run(sessionID, taskID string, req v1.PromptRequest) {
	ctx := context.Background()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.markFailed(ctx, taskID, v1.FailureNone, err)
		return
	}
	defer s.sem.Release(1)

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		s.markFailed(ctx, taskID, v1.FailureNone, err)
		return
	}

	token, err := s.signer.SignExecutorToken(sessionID, taskID)
	if err != nil {
		s.markFailed(ctx, taskID, v1.FailureNone, err)
		return
	}

	prompt := sysprompt.InjectAgorContext(taskID, sessionID, req.Prompt)
	if req.PlanMode {
		prompt = sysprompt.InjectPlanMode(prompt)
	}

	args := []string{
		"--daemon-url", s.daemonURL,
		"--session-token", token,
		"--session-id", sessionID,
		"--task-id", taskID,
		"--prompt", prompt,
		"--tool", string(session.Vendor),
	}
	if req.PermissionMode != "" {
		args = append(args, "--permission-mode", req.PermissionMode)
	}

	binary := s.cfg.BinaryPath
	if binary == "" {
		binary = "agor-executor"
	}
	cmd := exec.Command(binary, args...)
	cmd.Env = os.Environ()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	re := &runningExecution{
		cmd:       cmd,
		startedAt: time.Now(),
		sessionID: sessionID,
		done:      make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		s.markFailed(ctx, taskID, v1.FailureNone, fmt.Errorf("spawn executor: %w", err))
		return
	}

	s.mu.Lock()
	s.running[taskID] = re
	s.mu.Unlock()

	if _, err := s.store.PatchTask(ctx, taskID, store.TaskPatch{Status: statusPtr(v1.TaskRunning), Started: true}); err != nil {
		s.log.Warn("failed to mark task running", zap.String("task_id", taskID), zap.Error(err))
	}

	s.log.Info("executor spawned", zap.String("task_id", taskID), zap.String("session_id", sessionID),
		zap.String("vendor", string(session.Vendor)))

	// Bound the executor's total runtime: a prompt that never completes
	// (a hung vendor SDK call, a stuck tool loop) still needs its
	// subprocess reaped. stopCh lets the detached timeout give up early
	// once cmd.Wait returns on its own.
	stopCh := make(chan struct{})
	promptCtx, cancelPrompt := appctx.Detached(ctx, stopCh, constants.PromptTimeout)
	defer cancelPrompt()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		<-promptCtx.Done()
		if promptCtx.Err() == context.DeadlineExceeded && re.cmd.Process != nil {
			s.log.Warn("task exceeded prompt timeout, terminating executor", zap.String("task_id", taskID))
			_ = re.cmd.Process.Signal(syscall.SIGTERM)
		}
	}()

	waitErr := cmd.Wait()
	close(re.done)
	close(stopCh)
	<-watchDone

	s.mu.Lock()
	cancelled := re.cancelled
	delete(s.running, taskID)
	s.mu.Unlock()

	switch {
	case cancelled:
		s.patchTerminal(ctx, taskID, v1.TaskFailed, v1.FailureCancelled)
	case waitErr != nil:
		s.log.Warn("executor exited with error", zap.String("task_id", taskID), zap.Error(waitErr))
		s.patchTerminal(ctx, taskID, v1.TaskFailed, v1.FailureNone)
	default:
		// A clean exit without the executor itself patching the Task to
		// completed (e.g. it crashed after its own work but before its
		// final RPC) still needs a terminal status; patchTerminalIfStillRunning
		// re-reads the Task and patches it only while it is still running,
		// so this is a no-op once the executor already won.
		s.patchTerminalIfStillRunning(ctx, taskID)
	}
}

func (s *Scheduler) patchTerminal(ctx context.Context, taskID string, status v1.TaskStatus, reason v1.FailureReason) {
	_, err := s.store.PatchTask(ctx, taskID, store.TaskPatch{
		Status:    statusPtr(status),
		Reason:    reasonPtr(reason),
		Completed: true,
	})
	if err != nil {
		s.log.Warn("failed to patch terminal task status", zap.String("task_id", taskID), zap.Error(err))
	}
}

func (s *Scheduler) patchTerminalIfStillRunning(ctx context.Context, taskID string) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		s.log.Warn("failed to load task for terminal check", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if task.Status != v1.TaskRunning {
		return
	}
	s.patchTerminal(ctx, taskID, v1.TaskCompleted, v1.FailureNone)
}

func (s *Scheduler) markFailed(ctx context.Context, taskID string, reason v1.FailureReason, cause error) {
	s.log.Error("task failed before executor spawn", zap.String("task_id", taskID), zap.Error(cause))
	s.patchTerminal(ctx, taskID, v1.TaskFailed, reason)
}

// Cancel implements sessions.cancel (spec.md §4.4): it signals the running
// executor, waits up to ExecutorConfig.GracePeriod for it to exit on its
// own, then force-terminates it. The Task is marked failed/cancelled once
// the subprocess actually exits, by the supervising run() goroutine.
//
// Cancel is idempotent: a taskID absent from running because the Task
// already reached a terminal status returns success with no side effect,
// matching a caller that double-cancels after the first call already won
// the race with completion. A taskID the store doesn't recognize is
// NotFound, and so is a Task still pending with no subprocess spawned yet.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	s.mu.Lock()
	re, ok := s.running[taskID]
	if ok {
		re.cancelled = true
	}
	s.mu.Unlock()
	if !ok {
		task, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status == v1.TaskCompleted || task.Status == v1.TaskFailed {
			return nil
		}
		return apperr.NotFoundf("no running execution for task %s", taskID)
	}

	if re.cmd.Process != nil {
		_ = re.cmd.Process.Signal(syscall.SIGTERM)
	}

	go func() {
		select {
		case <-re.done:
		case <-time.After(s.cfg.GracePeriod()):
			if re.cmd.Process != nil {
				_ = re.cmd.Process.Kill()
			}
		}
	}()

	return nil
}

// ReconcileOnStartup marks every Task left running by a prior daemon
// process (crash, kill -9) as failed with reason orphaned (spec.md §4.4:
// "any Task left in running with no live subprocess is marked failed with
// reason orphaned"). Must run before EnqueuePrompt is ever called so the
// running map is still empty when it executes.
func (s *Scheduler) ReconcileOnStartup(ctx context.Context) error {
	tasks, err := s.store.ListRunningTasks(ctx)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if _, err := s.store.PatchTask(ctx, task.ID, store.TaskPatch{
			Status:    statusPtr(v1.TaskFailed),
			Reason:    reasonPtr(v1.FailureOrphaned),
			Completed: true,
		}); err != nil {
			s.log.Warn("failed to reconcile orphaned task", zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		s.log.Info("reconciled orphaned task", zap.String("task_id", task.ID))
	}
	return nil
}

// ActiveCount returns the number of executor subprocesses currently running.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func statusPtr(v v1.TaskStatus) *v1.TaskStatus     { return &v }
func reasonPtr(v v1.FailureReason) *v1.FailureReason { return &v }
