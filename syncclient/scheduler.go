// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KingAli2wq/socialsync/syncserver"
)

// ChangeHandler is invoked from the scheduler's owner goroutine whenever a
// remote change has been applied to the local state. Handlers must not
// block; hand off to your own loop for anything slow.
type ChangeHandler func(r syncserver.Resource, payload json.RawMessage)

// HealthHandler receives sync-health warnings (currently auth failures).
// Each distinct message is delivered once; repeats are suppressed until the
// message text changes.
type HealthHandler func(message string)

type pollResult struct {
	applied map[syncserver.Resource]json.RawMessage
	err     error
}

// Scheduler drives the two sync loops: a debounced push path for local
// mutations and a pull path (fast realtime poll plus a slow backup poll).
//
// All network I/O runs in short-lived worker goroutines; results are handed
// back to a single owner goroutine over channels, so shared state is never
// mutated from a network call. Every tick failure is swallowed and logged;
// the loops keep rescheduling until Stop or context cancellation, after
// which the scheduler must be explicitly restarted.
type Scheduler struct {
	store    *Store
	remote   *Remote // nil in local-only mode; loops become no-ops
	clientID string
	config   *Config
	logger   *slog.Logger

	pushCh  chan syncserver.Resource
	pollCh  chan struct{}
	applyCh chan pollResult

	mu            sync.Mutex
	cache         map[syncserver.Resource]json.RawMessage
	dirty         map[syncserver.Resource]bool
	lastErr       map[syncserver.Resource]string
	debounce      map[syncserver.Resource]*time.Timer
	onChange      []ChangeHandler
	onHealth      []HealthHandler
	lastHealthMsg string
	running       bool
	ctx           context.Context
	cancel        context.CancelFunc

	wg sync.WaitGroup

	// owner-goroutine state, untouched elsewhere
	pollInFlight bool
}

// NewScheduler wires a scheduler over the given store. remote may be nil.
func NewScheduler(store *Store, remote *Remote, clientID string, config *Config, logger *slog.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		remote:   remote,
		clientID: clientID,
		config:   config,
		logger:   logger,
		pushCh:   make(chan syncserver.Resource, len(syncserver.Resources)),
		pollCh:   make(chan struct{}, 1),
		applyCh:  make(chan pollResult, 1),
		cache:    make(map[syncserver.Resource]json.RawMessage),
		dirty:    make(map[syncserver.Resource]bool),
		lastErr:  make(map[syncserver.Resource]string),
		debounce: make(map[syncserver.Resource]*time.Timer),
	}, nil
}

// OnChange registers a handler for remotely originated changes.
func (s *Scheduler) OnChange(h ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, h)
}

// OnHealth registers a sync-health warning handler.
func (s *Scheduler) OnHealth(h HealthHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onHealth = append(s.onHealth, h)
}

// Start launches the owner loop. Calling Start on a running scheduler is an
// error; after Stop it may be started again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop cancels the loops and waits for in-flight workers to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	for r, t := range s.debounce {
		t.Stop()
		delete(s.debounce, r)
	}
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.pollInFlight = false
	s.mu.Unlock()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	fast := time.NewTicker(s.config.RealtimePoll)
	defer fast.Stop()

	// The backup loop is a failsafe for a disabled fast loop or a silently
	// failed push. It starts late so the fast loop can establish itself.
	backup := time.NewTimer(s.config.BackupStartDelay)
	defer backup.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case r := <-s.pushCh:
			s.startPush(r)
		case <-s.pollCh:
			s.startPoll()
		case <-fast.C:
			s.startPoll()
		case <-backup.C:
			s.startPoll()
			backup.Reset(s.config.BackupPoll)
		case res := <-s.applyCh:
			s.pollInFlight = false
			s.applyPoll(res)
		}
	}
}

// Save applies a local mutation: the local file is written through
// immediately, then the remote push is scheduled with per-resource
// debouncing so rapid-fire edits collapse into one outbound write.
func (s *Scheduler) Save(ctx context.Context, r syncserver.Resource, payload json.RawMessage) error {
	if err := s.store.SaveLocal(r, payload); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[r] = payload
	s.scheduleDebounceLocked(r)
	s.mu.Unlock()
	return nil
}

// NotifyChanged signals that r's local file was mutated out of band (file
// watcher, external tool). The cache is refreshed from disk and a debounced
// push is scheduled.
func (s *Scheduler) NotifyChanged(r syncserver.Resource) {
	payload := s.store.LoadLocal(r)
	s.mu.Lock()
	s.cache[r] = payload
	s.scheduleDebounceLocked(r)
	s.mu.Unlock()
}

// Load returns the in-memory copy of r, falling back to the store (remote
// then local then default). Load never fails.
func (s *Scheduler) Load(ctx context.Context, r syncserver.Resource) json.RawMessage {
	s.mu.Lock()
	if payload, ok := s.cache[r]; ok {
		s.mu.Unlock()
		return payload
	}
	s.mu.Unlock()

	payload := s.store.Load(ctx, r)
	s.mu.Lock()
	s.cache[r] = payload
	s.mu.Unlock()
	return payload
}

// TakeDirty returns the resources changed remotely since the last call and
// clears their dirty flags. The presentation layer polls this to decide what
// to re-render.
func (s *Scheduler) TakeDirty() []syncserver.Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]syncserver.Resource, 0, len(s.dirty))
	for r := range s.dirty {
		out = append(out, r)
	}
	s.dirty = make(map[syncserver.Resource]bool)
	return out
}

// LastError reports the most recent sync failure for r ("" when healthy).
func (s *Scheduler) LastError(r syncserver.Resource) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr[r]
}

// scheduleDebounceLocked resets r's debounce timer. An already-pending timer
// is cancelled and replaced, so only the newest mutation's timer fires.
// Caller holds s.mu.
func (s *Scheduler) scheduleDebounceLocked(r syncserver.Resource) {
	if !s.running || s.remote == nil {
		return
	}
	if t, ok := s.debounce[r]; ok {
		t.Stop()
	}
	ctx := s.ctx
	s.debounce[r] = time.AfterFunc(s.config.PushDebounce, func() {
		select {
		case s.pushCh <- r:
		case <-ctx.Done():
		}
	})
}

// startPush uploads r's current payload from a worker goroutine, then
// schedules one light refresh to absorb remote changes that landed while the
// push was in flight. A failed push is not retried here; the backup poll and
// the write-through local copy bound the damage to a lagging mirror.
func (s *Scheduler) startPush(r syncserver.Resource) {
	if s.remote == nil {
		return
	}
	s.mu.Lock()
	payload, ok := s.cache[r]
	s.mu.Unlock()
	if !ok {
		payload = s.store.LoadLocal(r)
	}

	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.remote.PutResource(ctx, r, payload); err != nil {
			s.recordSyncError(r, err)
		} else {
			s.clearSyncError(r)
		}
		time.AfterFunc(s.config.LightRefreshDelay, func() {
			s.requestPoll(ctx)
		})
	}()
}

// requestPoll asks the owner loop for one poll cycle. Coalesces: if a
// request is already pending, this one is dropped.
func (s *Scheduler) requestPoll(ctx context.Context) {
	select {
	case s.pollCh <- struct{}{}:
	case <-ctx.Done():
	default:
	}
}

// startPoll runs one check-and-apply cycle in a worker, unless one is
// already in flight (a slow server must not stack up polls).
func (s *Scheduler) startPoll() {
	if s.remote == nil || s.pollInFlight {
		return
	}
	s.pollInFlight = true

	ctx := s.ctx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res := s.pollOnce(ctx)
		select {
		case s.applyCh <- res:
		case <-ctx.Done():
		}
	}()
}

// pollOnce fetches the delta, loads each changed resource, and acknowledges
// the ones that loaded cleanly. Runs on a worker goroutine and touches no
// scheduler state.
func (s *Scheduler) pollOnce(ctx context.Context) pollResult {
	updates, err := s.remote.CheckUpdates(ctx, s.clientID)
	if err != nil {
		return pollResult{err: err}
	}
	if len(updates) == 0 {
		return pollResult{}
	}

	applied := make(map[syncserver.Resource]json.RawMessage, len(updates))
	synced := make([]syncserver.Resource, 0, len(updates))
	for r := range updates {
		payload, _, err := s.remote.GetResource(ctx, r)
		if err != nil {
			s.recordSyncError(r, err)
			continue
		}
		applied[r] = payload
		synced = append(synced, r)
	}

	if len(synced) > 0 {
		// Acknowledge only what was actually absorbed; a failed MarkSynced
		// leaves the resources unacked and the next poll retries.
		if err := s.remote.MarkSynced(ctx, s.clientID, synced); err != nil {
			s.logger.Debug("mark-synced failed, will retry next poll", "error", err)
		}
	}
	return pollResult{applied: applied}
}

// applyPoll folds a poll result into the owner-side state: cache and local
// files are updated, dirty flags raised, change handlers notified.
func (s *Scheduler) applyPoll(res pollResult) {
	if res.err != nil {
		s.recordSyncError("", res.err)
		return
	}

	var handlers []ChangeHandler
	s.mu.Lock()
	handlers = append(handlers, s.onChange...)
	for r, payload := range res.applied {
		s.cache[r] = payload
		s.dirty[r] = true
		delete(s.lastErr, r)
	}
	s.mu.Unlock()

	for r, payload := range res.applied {
		if err := s.store.SaveLocal(r, payload); err != nil {
			s.logger.Warn("failed to mirror remote change locally", "resource", r, "error", err)
		}
		for _, h := range handlers {
			h(r, payload)
		}
	}
}

// recordSyncError stores the failure in the side-channel and, for auth
// failures, raises a health warning — once per distinct message, so a
// misconfigured token does not turn into a popup storm.
func (s *Scheduler) recordSyncError(r syncserver.Resource, err error) {
	var handlers []HealthHandler
	msg := err.Error()

	s.mu.Lock()
	if r != "" {
		s.lastErr[r] = msg
	}
	if errors.Is(err, ErrUnauthorized) && msg != s.lastHealthMsg {
		s.lastHealthMsg = msg
		handlers = append(handlers, s.onHealth...)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	s.logger.Debug("sync error", "resource", r, "error", err)
}

func (s *Scheduler) clearSyncError(r syncserver.Resource) {
	s.mu.Lock()
	delete(s.lastErr, r)
	s.mu.Unlock()
}
