package procmon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"git.unix.lgbt/diamondburned/procmon/procmon/exec"
	"github.com/pkg/errors"
)

// MonitorConfig describes what a Monitor supervises.
type MonitorConfig struct {
	// ScriptsDir, if not empty, is watched for executables. Each executable
	// directly inside it is supervised as a program named after the file.
	ScriptsDir string
	// Programs are supervised regardless of the scripts directory. A script
	// with the same name as one of these is ignored.
	Programs []Program

	// WaitTimeout and RetryBackoff override the process defaults if set.
	WaitTimeout  time.Duration
	RetryBackoff []time.Duration
}

// Monitor is a procmon instance that monitors a set of processes.
type Monitor struct {
	cfg MonitorConfig
	j   Journaler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan error

	// startProc, if not nil, replaces exec.StartProcess in every process.
	startProc func(context.Context, exec.Config) (exec.Process, error)

	mutex  sync.Mutex
	procs  map[string]*Process
	static map[string]struct{}
}

// NewMonitor writes the acquired event, starts every configured program and
// every executable in the scripts directory, then keeps the set of scripts in
// sync with the directory until Stop is called or the context is canceled.
func NewMonitor(ctx context.Context, cfg MonitorConfig, j Journaler) (*Monitor, error) {
	return newMonitor(ctx, cfg, j, nil)
}

func newMonitor(
	ctx context.Context, cfg MonitorConfig, j Journaler,
	startProc func(context.Context, exec.Config) (exec.Process, error)) (*Monitor, error) {

	if err := j.Write(&EventAcquired{PID: os.Getpid()}); err != nil {
		return nil, errors.Wrap(err, "failed to write to journal")
	}

	ctx, cancel := context.WithCancel(ctx)

	m := &Monitor{
		cfg:       cfg,
		j:         j,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan error, 1),
		startProc: startProc,
		procs:     make(map[string]*Process),
		static:    make(map[string]struct{}),
	}

	for _, prog := range cfg.Programs {
		if _, dup := m.static[prog.File]; dup {
			cancel()
			m.stopAll()
			return nil, errors.Errorf("duplicate program %q", prog.File)
		}

		m.static[prog.File] = struct{}{}
		m.add(prog)
	}

	var watcher *Watcher

	if cfg.ScriptsDir != "" {
		var err error

		// Watch before listing so that no script created in between is
		// missed.
		watcher, err = NewWatcher(ctx, cfg.ScriptsDir, j)
		if err != nil {
			j.Write(&EventWarning{
				Component: "watcher",
				Error:     fmt.Sprintf("not watching dir because: %v", err),
			})
		}

		m.scanScripts()
	}

	go m.loop(watcher)

	return m, nil
}

// Files returns the sorted names of the programs currently supervised.
func (m *Monitor) Files() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	files := make([]string, 0, len(m.procs))
	for file := range m.procs {
		files = append(files, file)
	}

	sort.Strings(files)
	return files
}

// Stop stops every process and waits for them to exit. The returned error is
// the first process that could not be confirmed dead.
func (m *Monitor) Stop() error {
	m.cancel()
	return <-m.done
}

func (m *Monitor) loop(watcher *Watcher) {
	var events <-chan EventProcessListModify
	if watcher != nil {
		events = watcher.Events
	}

	for {
		select {
		case <-m.ctx.Done():
			m.done <- m.stopAll()
			return

		case ev := <-events:
			m.apply(ev)
		}
	}
}

func (m *Monitor) scanScripts() {
	entries, err := os.ReadDir(m.cfg.ScriptsDir)
	if err != nil {
		m.j.Write(&EventWarning{
			Component: "monitor",
			Error:     fmt.Sprintf("failed to read scripts dir: %v", err),
		})
		return
	}

	for _, entry := range entries {
		m.apply(EventProcessListModify{Op: ProcessListAdd, File: entry.Name()})
	}
}

// apply applies a change in the scripts directory to the process list.
func (m *Monitor) apply(ev EventProcessListModify) {
	if _, ok := m.static[ev.File]; ok {
		return
	}

	m.mutex.Lock()
	_, running := m.procs[ev.File]
	m.mutex.Unlock()

	if ev.Op == ProcessListRemove {
		if running {
			m.remove(ev.File)
			m.j.Write(&ev)
		}
		return
	}

	if !m.isScript(ev.File) {
		if running {
			m.remove(ev.File)
			m.j.Write(&EventProcessListModify{Op: ProcessListRemove, File: ev.File})
		}
		return
	}

	switch {
	case !running:
		m.j.Write(&EventProcessListModify{Op: ProcessListAdd, File: ev.File})
	case ev.Op == ProcessListUpdate:
		m.remove(ev.File)
		m.j.Write(&EventProcessListModify{Op: ProcessListUpdate, File: ev.File})
	default:
		// Already running and unchanged.
		return
	}

	m.add(Program{
		File: ev.File,
		Path: filepath.Join(m.cfg.ScriptsDir, ev.File),
	})
}

func (m *Monitor) isScript(file string) bool {
	s, err := os.Stat(filepath.Join(m.cfg.ScriptsDir, file))
	if err != nil || !s.Mode().IsRegular() {
		return false
	}

	// Windows has no executable bit.
	return runtime.GOOS == "windows" || s.Mode().Perm()&0111 != 0
}

func (m *Monitor) add(prog Program) {
	proc := NewProcess(m.ctx, prog, m.j)
	if m.cfg.WaitTimeout > 0 {
		proc.WaitTimeout = m.cfg.WaitTimeout
	}
	if len(m.cfg.RetryBackoff) > 0 {
		proc.RetryBackoff = m.cfg.RetryBackoff
	}
	if m.startProc != nil {
		proc.startProc = m.startProc
	}

	m.mutex.Lock()
	m.procs[prog.File] = proc
	m.mutex.Unlock()

	proc.Start()
}

func (m *Monitor) remove(file string) {
	m.mutex.Lock()
	proc, ok := m.procs[file]
	delete(m.procs, file)
	m.mutex.Unlock()

	if !ok {
		return
	}

	if err := proc.Stop(); err != nil {
		m.j.Write(&EventWarning{
			Component: "monitor",
			Error:     fmt.Sprintf("failed to stop %q: %v", file, err),
		})
	}
}

// stopAll stops every process concurrently.
func (m *Monitor) stopAll() error {
	m.mutex.Lock()
	procs := m.procs
	m.procs = make(map[string]*Process)
	m.mutex.Unlock()

	errs := make(chan error, len(procs))

	var wg sync.WaitGroup
	for file, proc := range procs {
		wg.Add(1)
		go func(file string, proc *Process) {
			defer wg.Done()
			if err := proc.Stop(); err != nil {
				errs <- errors.Wrapf(err, "failed to stop %q", file)
			}
		}(file, proc)
	}

	wg.Wait()
	close(errs)

	return <-errs
}
