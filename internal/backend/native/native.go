// Package native implements the native OS-process execution backend of
// design §4.3.2, for games that cannot be containerised.
package native

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/lmdudester/garcon/internal/apperrors"
	"github.com/lmdudester/garcon/internal/backend"
	"github.com/lmdudester/garcon/internal/store"
	"github.com/lmdudester/garcon/internal/template"
)

// pollInterval is the fixed re-adopted-process watch interval (design
// §4.3.2 "around 10s").
const pollInterval = 10 * time.Second

// exitWaitPoll is the cap on waiting for the OS to release a killed
// process's resources (design §5 "Polling waits ... capped at 10s").
const exitWaitPoll = 10 * time.Second

// Record is a persisted native-process entry (design §4.3.2 "State").
type Record struct {
	ServerID    string    `json:"server_id"`
	Pid         int       `json:"pid"`
	ProcessName string    `json:"process_name"`
	StartedAt   time.Time `json:"started_at"`
}

type tracked struct {
	record  Record
	cmd     *exec.Cmd // nil for re-adopted processes
	logFile *os.File
	stopCh  chan struct{} // closed to stop a re-adopted process's poll loop
}

// Backend is the native-process execution provider.
type Backend struct {
	stateFile string
	logsDir   string
	store     *store.Store
	log       zerolog.Logger

	callbacks *backend.CallbackRegistry

	mu        sync.Mutex
	processes map[string]*tracked
}

// New constructs a native Backend. stateFile is the path to the persisted
// process-record JSON document; logsDir holds per-server stdout/stderr
// capture files.
func New(stateFile, logsDir string, st *store.Store, log zerolog.Logger) *Backend {
	return &Backend{
		stateFile: stateFile,
		logsDir:   logsDir,
		store:     st,
		log:       log.With().Str("component", "native_backend").Logger(),
		callbacks: backend.NewCallbackRegistry(),
		processes: make(map[string]*tracked),
	}
}

// CheckAvailability always succeeds: gopsutil abstracts the OS difference,
// so the backend can supervise a process on any host.
func (b *Backend) CheckAvailability(ctx context.Context) error {
	return nil
}

// OnProcessExit registers an exit callback.
func (b *Backend) OnProcessExit(cb backend.ExitCallback) backend.Unregister {
	return b.callbacks.Register(cb)
}

// StartEventMonitoring begins polling every re-adopted process (those
// without a live child handle) for liveness. Freshly-started processes are
// watched via their own cmd.Wait goroutine instead.
func (b *Backend) StartEventMonitoring(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.processes {
		if t.cmd == nil {
			b.watchPolled(ctx, t)
		}
	}
}

// Start launches the template's executable against the server's data path
// (design §4.3.2 "Start").
func (b *Backend) Start(ctx context.Context, spec backend.StartSpec, tmpl template.Template) (string, error) {
	if tmpl.Exec.Executable == "" {
		return "", apperrors.Newf(apperrors.Validation, "template %q has no native executable", tmpl.ID)
	}

	status, err := b.GetProcessStatus(ctx, spec.ServerID)
	if err != nil {
		return "", err
	}
	if status.Exists && status.Running {
		return "", apperrors.Newf(apperrors.Conflict, "server %s is already running", spec.ServerID)
	}

	exePath := filepath.Join(spec.DataPath, tmpl.Exec.Executable)
	args := make([]string, len(tmpl.Exec.Args))
	for i, a := range tmpl.Exec.Args {
		args[i] = substituteVars(a, spec.Env)
	}

	if err := b.store.EnsureDir(b.logsDir); err != nil {
		return "", err
	}
	logPath := filepath.Join(b.logsDir, spec.ServerID+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", apperrors.Wrap(apperrors.FileSystem, "open log file for "+spec.ServerID, err)
	}

	cmd := exec.Command(exePath, args...)
	cmd.Dir = spec.DataPath
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), envSlice(spec.Env)...)
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return "", apperrors.Wrap(apperrors.NativeProcess, "launch "+exePath, err)
	}

	pid := cmd.Process.Pid
	procName, _ := processName(pid)

	record := Record{
		ServerID:    spec.ServerID,
		Pid:         pid,
		ProcessName: procName,
		StartedAt:   time.Now().UTC(),
	}

	t := &tracked{record: record, cmd: cmd, logFile: logFile}

	b.mu.Lock()
	b.processes[spec.ServerID] = t
	b.mu.Unlock()

	if err := b.persist(); err != nil {
		b.log.Warn().Err(err).Msg("failed to persist native process record")
	}

	go b.watchSpawned(spec.ServerID, t)

	return fmt.Sprintf("%d", pid), nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func substituteVars(tmpl string, env map[string]string) string {
	out := tmpl
	for k, v := range env {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// watchSpawned waits on a freshly-launched child and dispatches its exit.
func (b *Backend) watchSpawned(serverID string, t *tracked) {
	err := t.cmd.Wait()

	var exitCode *int
	if t.cmd.ProcessState != nil {
		code := t.cmd.ProcessState.ExitCode()
		exitCode = &code
	}
	if err != nil {
		b.log.Debug().Err(err).Str("server_id", serverID).Msg("native process exited")
	}

	t.logFile.Close()

	b.mu.Lock()
	delete(b.processes, serverID)
	b.mu.Unlock()

	if perr := b.persist(); perr != nil {
		b.log.Warn().Err(perr).Msg("failed to persist native process record after exit")
	}

	b.callbacks.Dispatch(backend.ExitEvent{ServerID: serverID, ExitCode: exitCode})
}

// watchPolled watches a re-adopted process (no child handle available) at a
// fixed interval and dispatches an exit with no known exit code.
func (b *Backend) watchPolled(ctx context.Context, t *tracked) {
	t.stopCh = make(chan struct{})
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			case <-ticker.C:
				if b.isAlive(t.record.Pid) {
					continue
				}
				b.mu.Lock()
				delete(b.processes, t.record.ServerID)
				b.mu.Unlock()
				if err := b.persist(); err != nil {
					b.log.Warn().Err(err).Msg("failed to persist native process record after poll exit")
				}
				b.callbacks.Dispatch(backend.ExitEvent{ServerID: t.record.ServerID})
				return
			}
		}
	}()
}

func (b *Backend) isAlive(pid int) bool {
	proc, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	return err == nil && running
}

func processName(pid int) (string, error) {
	proc, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return proc.Name()
}

// GetProcessStatus reports liveness for serverID via gopsutil.
func (b *Backend) GetProcessStatus(ctx context.Context, serverID string) (backend.ProcessStatus, error) {
	b.mu.Lock()
	t, ok := b.processes[serverID]
	b.mu.Unlock()

	if !ok {
		return backend.ProcessStatus{Exists: false}, nil
	}

	running := b.isAlive(t.record.Pid)
	return backend.ProcessStatus{
		Exists:   true,
		Running:  running,
		NativeID: fmt.Sprintf("%d", t.record.Pid),
	}, nil
}

// Stop attempts an RCON-graceful shutdown, falling back to a tree-kill
// (design §4.3.2 "Stop").
func (b *Backend) Stop(ctx context.Context, serverID string, tmpl template.Template, timeoutSeconds int) error {
	b.mu.Lock()
	t, ok := b.processes[serverID]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	if timeoutSeconds <= 0 {
		timeoutSeconds = tmpl.Exec.StopTimeout()
	}
	timeout := time.Duration(timeoutSeconds) * time.Second

	if tmpl.Exec.Rcon != nil && tmpl.Exec.Rcon.Enabled {
		if err := b.rconShutdown(ctx, tmpl); err != nil {
			b.log.Warn().Err(err).Str("server_id", serverID).Msg("RCON shutdown failed, falling back to tree-kill")
		} else if b.waitForExit(t.record.Pid, timeout) {
			return b.Remove(ctx, serverID)
		}
	}

	if err := killProcessGroup(t.record.Pid); err != nil {
		b.log.Warn().Err(err).Str("server_id", serverID).Msg("tree-kill failed")
	}
	b.waitForExit(t.record.Pid, exitWaitPoll)

	return b.Remove(ctx, serverID)
}

func (b *Backend) waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !b.isAlive(pid) {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return !b.isAlive(pid)
}

// Remove drops serverID's record (idempotent).
func (b *Backend) Remove(ctx context.Context, serverID string) error {
	b.mu.Lock()
	t, ok := b.processes[serverID]
	if ok {
		if t.stopCh != nil {
			close(t.stopCh)
		}
		if t.logFile != nil {
			t.logFile.Close()
		}
		delete(b.processes, serverID)
	}
	b.mu.Unlock()

	if !ok {
		return nil
	}
	return b.persist()
}

// persist writes the current tracked-process set to the state file.
func (b *Backend) persist() error {
	b.mu.Lock()
	records := make([]Record, 0, len(b.processes))
	for _, t := range b.processes {
		records = append(records, t.record)
	}
	b.mu.Unlock()

	return b.store.WriteJSON(b.stateFile, records)
}

// Reconcile loads persisted records and re-adopts any whose pid is still
// alive under the recorded process-image name (design §4.3.2 "Re-adoption
// and reconciliation", pid-reuse defense).
func (b *Backend) Reconcile(ctx context.Context) error {
	var records []Record
	if err := b.store.ReadJSON(b.stateFile, &records); err != nil {
		if apperrors.Is(err, apperrors.NotFound) {
			return nil
		}
		return err
	}

	adopted := make(map[string]*tracked)
	for _, rec := range records {
		name, err := processName(rec.Pid)
		if err != nil || name != rec.ProcessName {
			b.log.Warn().Str("server_id", rec.ServerID).Int("pid", rec.Pid).
				Msg("refusing to re-adopt: pid not alive or process image mismatch")
			continue
		}
		adopted[rec.ServerID] = &tracked{record: rec}
	}

	b.mu.Lock()
	b.processes = adopted
	b.mu.Unlock()

	return b.persist()
}
