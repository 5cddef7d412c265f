// Package jobmgr runs named background jobs with cancellation and in-memory
// tracking. A name can be held by at most one running job at a time, which
// makes the manager usable as a "single pending task per key" guard.
//
// Typical usage:
//
//	jm := jobmgr.NewManager(func(msg string) {
//	    log.Println("JOB:", msg)
//	})
//	defer jm.Shutdown()
//
//	err := jm.StartAsync("rejoin:1234", func(ctx context.Context) error {
//	    // do work until ctx is cancelled
//	    return nil
//	})
//	if errors.Is(err, jobmgr.ErrAlreadyRunning) {
//	    // someone else owns the name
//	}
//
// Jobs derive their context from the manager, so Shutdown cancels every job
// transitively. Finished jobs remove themselves.
package jobmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAlreadyRunning = errors.New("job is already running")
	ErrNotRunning     = errors.New("job is not running")
	ErrShutdown       = errors.New("job manager is shut down")
)

// Job describes a running unit of work.
type Job struct {
	ID        string
	Name      string
	StartedAt time.Time
	Cancel    context.CancelFunc
}

// StatusReporter receives lifecycle events for jobs.
// Example messages:
//
//	running:rejoin:1234
//	error:unmute:1234:5678:missing permissions
//	done:encode-audio
type StatusReporter func(string)

// Manager orchestrates starting, stopping and tracking jobs.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	base     context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
	Reporter StatusReporter
}

// NewManager creates a new Manager.
// The reporter callback may be nil.
func NewManager(reporter StatusReporter) *Manager {
	base, cancel := context.WithCancel(context.Background())
	return &Manager{
		jobs:     make(map[string]*Job),
		base:     base,
		cancel:   cancel,
		Reporter: reporter,
	}
}

// StartSync runs a job in the current goroutine and blocks until completion.
// The name is held for the duration of the run, so a concurrent StartSync or
// StartAsync with the same name fails with ErrAlreadyRunning.
func (m *Manager) StartSync(name string, runner func(ctx context.Context) error) error {
	job, ctx, err := m.register(name)
	if err != nil {
		return err
	}
	defer m.wg.Done()
	return m.run(job, ctx, runner)
}

// StartAsync runs a job in a separate goroutine and returns immediately.
// If a job with the same name is already running, ErrAlreadyRunning is returned.
func (m *Manager) StartAsync(name string, runner func(ctx context.Context) error) error {
	job, ctx, err := m.register(name)
	if err != nil {
		return err
	}

	go func() {
		defer m.wg.Done()
		_ = m.run(job, ctx, runner)
	}()

	return nil
}

// Restart cancels the job holding name (if any) and starts runner in its place.
// The cancelled job is not awaited; it finishes on its own.
func (m *Manager) Restart(name string, runner func(ctx context.Context) error) error {
	_ = m.Stop(name)
	return m.StartAsync(name, runner)
}

// Stop cancels a running job by name and releases the name immediately.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}

	job.Cancel()
	delete(m.jobs, name)
	return nil
}

// Running reports whether a job currently holds name.
func (m *Manager) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[name]
	return ok
}

// Get returns a copy of the job holding name.
func (m *Manager) Get(name string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[name]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Jobs returns a snapshot of running jobs sorted by name.
func (m *Manager) Jobs() []Job {
	m.mu.Lock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// List returns the sorted names of active jobs.
func (m *Manager) List() []string {
	jobs := m.Jobs()
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.Name
	}
	return out
}

// Status returns a human-readable summary of active jobs.
// Example:
//
//	"Running jobs: encode-audio, rejoin:1234"
//
// If none are running: "No jobs are running."
func (m *Manager) Status() string {
	active := m.List()
	if len(active) == 0 {
		return "No jobs are running."
	}
	return fmt.Sprintf("Running jobs: %s", strings.Join(active, ", "))
}

// Shutdown cancels every job, refuses new ones and waits for running jobs to
// return. It must not be called from inside a job.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	for name, job := range m.jobs {
		job.Cancel()
		delete(m.jobs, name)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) register(name string) (*Job, context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, ErrShutdown
	}
	if _, exists := m.jobs[name]; exists {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}

	ctx, cancel := context.WithCancel(m.base)
	job := &Job{
		ID:        uuid.NewString(),
		Name:      name,
		StartedAt: time.Now(),
		Cancel:    cancel,
	}
	m.jobs[name] = job
	m.wg.Add(1)
	return job, ctx, nil
}

func (m *Manager) run(job *Job, ctx context.Context, runner func(ctx context.Context) error) error {
	m.report("running:" + job.Name)

	err := runner(ctx)
	if err != nil {
		m.report("error:" + job.Name + ":" + err.Error())
	} else {
		m.report("done:" + job.Name)
	}

	job.Cancel()

	// The name may already belong to a newer job after Stop or Restart.
	m.mu.Lock()
	if cur, ok := m.jobs[job.Name]; ok && cur == job {
		delete(m.jobs, job.Name)
	}
	m.mu.Unlock()

	return err
}

// report delivers lifecycle messages to the reporter if present.
func (m *Manager) report(s string) {
	if m.Reporter != nil {
		m.Reporter(s)
	}
}
