// SPDX-License-Identifier: MIT

// Package supervisor implements the long-running privileged daemon (C6):
// it loads cameras and storage backends, spawns one isolated child process
// per active camera pipeline, runs the retention sweep and watchdog on a
// cooperative schedule, and services a local control socket. It is the one
// process on the machine that is allowed to hold the PID lock.
//
// Reference: daemon/daemon.py's Daemon class for the start_camera/
// stop_camera/list_cameras/run lifecycle and the singleton-via-PID-lock
// startup discipline, generalized from a hand-rolled sched.scheduler +
// socketserver.ThreadingMixIn pair onto gocron and a thejerf/suture
// supervision tree.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/chponte/libreeye/internal/broadcastapi"
	"github.com/chponte/libreeye/internal/camera"
	"github.com/chponte/libreeye/internal/config"
	"github.com/chponte/libreeye/internal/health"
	"github.com/chponte/libreeye/internal/lock"
	"github.com/chponte/libreeye/internal/procsup"
	"github.com/chponte/libreeye/internal/retention"
	"github.com/chponte/libreeye/internal/rerror"
	"github.com/chponte/libreeye/internal/sink"
	"github.com/chponte/libreeye/internal/util"
)

// State is the supervisor's coarse lifecycle stage.
//
// Reference: 4.6 CameraSupervisor's {initializing, running, stopping,
// stopped} state machine.
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// cameraEntry tracks one configured camera's logical intent (desired) and
// its current suture service, if any. desired/hasToken is the "marked
// active" bookkeeping that ListCameras and the watchdog read; it is
// mutated only by StartCamera/StopCamera, never by a suture-internal
// crash restart, so ListCameras reports the same answer across a pipeline
// crash and its automatic respawn.
type cameraEntry struct {
	descriptor *camera.Descriptor
	svc        *procsupService
	token      suture.ServiceToken
	hasToken   bool
	desired    bool
}

// Supervisor is the C6 component: one instance per running daemon,
// constructed once from a fully loaded config.Config.
type Supervisor struct {
	cfg *config.Config
	log *slog.Logger

	root      *suture.Supervisor
	resources *util.ResourceTracker
	fileLock  *lock.FileLock

	mu      sync.Mutex
	cameras map[string]*cameraEntry

	state atomic.Int32
}

// New constructs a Supervisor from cfg. It does not touch the filesystem
// or start anything; call Run to do that.
func New(cfg *config.Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		cfg:       cfg,
		log:       logger,
		cameras:   make(map[string]*cameraEntry, len(cfg.Cameras)),
		resources: util.NewResourceTracker(),
	}
	s.root = suture.New("libreeye", suture.Spec{Timeout: cfg.StopTimeout})
	for _, d := range cfg.Cameras {
		s.cameras[d.Name] = &cameraEntry{descriptor: d, desired: true}
	}
	s.state.Store(int32(StateInitializing))
	return s
}

// State returns the supervisor's current lifecycle stage.
func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) setState(st State) { s.state.Store(int32(st)) }

// Run acquires the singleton PID lock, starts the control socket and
// scheduler, auto-starts every configured camera, and blocks until ctx is
// cancelled. On cancellation it stops every camera pipeline, the control
// socket, and the scheduler before returning.
//
// Reference: daemon/daemon.py's run(): start_camera for every configured
// camera, spin up the control server, then run the scheduler loop until
// self._active flips false.
func (s *Supervisor) Run(ctx context.Context) error {
	fl, err := lock.NewFileLock(s.cfg.PIDFile)
	if err != nil {
		return rerror.Wrap(rerror.KindInternal, "create PID lock", err)
	}
	if err := fl.AcquireContext(ctx, lock.DefaultAcquireTimeout); err != nil {
		return rerror.Wrap(rerror.KindInternal, "acquire singleton lock, another instance may be running", err)
	}
	s.fileLock = fl
	defer func() {
		if err := s.fileLock.Release(); err != nil {
			s.log.Warn("failed to release PID lock", "error", err)
		}
	}()

	supDone := s.root.ServeBackground(ctx)

	ctrl, err := newControlServer(s.cfg.ControlSocket, s)
	if err != nil {
		return err
	}
	s.root.Add(ctrl)

	if s.cfg.HealthAddr != "" {
		handler := health.NewHandler(s).WithSystemInfo(s)
		s.root.Add(&healthServer{addr: s.cfg.HealthAddr, handler: handler})
	}

	sched, err := s.startScheduler(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := sched.Shutdown(); err != nil {
			s.log.Warn("scheduler shutdown error", "error", err)
		}
	}()

	for _, d := range s.cfg.Cameras {
		if err := s.StartCamera(d.Name); err != nil {
			s.log.Error("failed to auto-start camera", "camera", d.Name, "error", err)
		}
	}

	s.setState(StateRunning)
	s.log.Info("supervisor running", "cameras", len(s.cfg.Cameras), "control_socket", s.cfg.ControlSocket)

	select {
	case <-ctx.Done():
	case err := <-supDone:
		s.setState(StateStopped)
		return err
	}

	s.setState(StateStopping)
	err = <-supDone
	s.setState(StateStopped)
	return err
}

// StartCamera starts the named camera's pipeline child if it is not
// already running. Starting an already-active camera is a no-op.
//
// Reference: daemon/daemon.py's start_camera: "if state['running']: return".
func (s *Supervisor) StartCamera(name string) error {
	s.mu.Lock()
	e, ok := s.cameras[name]
	if !ok {
		s.mu.Unlock()
		return rerror.New(rerror.KindNotFound, fmt.Sprintf("unknown camera %q", name))
	}
	e.desired = true
	if e.hasToken {
		s.mu.Unlock()
		return nil
	}
	d := e.descriptor
	s.mu.Unlock()

	svc, err := s.buildService(d)
	if err != nil {
		return err
	}
	token := s.root.Add(svc)

	s.mu.Lock()
	e.svc = svc
	e.token = token
	e.hasToken = true
	s.mu.Unlock()

	s.log.Info("camera started", "camera", name)
	return nil
}

// StopCamera stops the named camera's pipeline child, if running, and
// returns its exit code. Stopping an already-inactive camera is a no-op
// that returns exit code 0.
//
// Reference: daemon/daemon.py's stop_camera: "if not state['running']:
// return" for the no-op branch, "state['camera'].stop()" for the real one.
func (s *Supervisor) StopCamera(name string) (int, error) {
	s.mu.Lock()
	e, ok := s.cameras[name]
	if !ok {
		s.mu.Unlock()
		return 0, rerror.New(rerror.KindNotFound, fmt.Sprintf("unknown camera %q", name))
	}
	e.desired = false
	if !e.hasToken {
		s.mu.Unlock()
		return 0, nil
	}
	token := e.token
	svc := e.svc
	e.hasToken = false
	s.mu.Unlock()

	waitFor := s.cfg.StopTimeout + 5*time.Second
	if err := s.root.RemoveAndWait(token, waitFor); err != nil {
		return -1, rerror.Wrap(rerror.KindTimeout, "stop camera "+name, err)
	}

	if svc.logFile != nil {
		s.resources.UntrackFile(name)
		_ = svc.logFile.Close()
	}

	s.log.Info("camera stopped", "camera", name, "exit_code", svc.exitCode.Load())
	return int(svc.exitCode.Load()), nil
}

// ListCameras reports each configured camera's logical active state: true
// between a successful StartCamera and the matching StopCamera, regardless
// of whether the underlying subprocess is, at this instant, mid-restart.
//
// Reference: daemon/daemon.py's list_cameras: info[name]['active'] =
// state['running'].
func (s *Supervisor) ListCameras() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.cameras))
	for name, e := range s.cameras {
		out[name] = e.hasToken
	}
	return out
}

// RunGC runs one retention sweep synchronously across every configured
// storage backend and returns a control-socket-style exit code: 0 if every
// backend swept cleanly, 1 if any item or listing failed.
func (s *Supervisor) RunGC(ctx context.Context) int {
	backends, retentionDays := s.buildRetentionBackends()
	removed, errs := retention.Sweep(ctx, backends, retentionDays)
	s.log.Info("garbage collection run", "removed", removed, "errors", len(errs))
	for _, err := range errs {
		s.log.Warn("garbage collection error", "error", err)
	}
	if len(errs) > 0 {
		return 1
	}
	return 0
}

// retentionSweep is the scheduler's periodic task: identical to RunGC but
// invoked on the 24h cadence instead of synchronously from a control
// socket request.
func (s *Supervisor) retentionSweep(ctx context.Context) {
	s.RunGC(ctx)
}

// watchdogTick restarts any camera that is marked desired (started, never
// explicitly stopped) but currently has no suture service token at all --
// the case a crash-triggered suture restart does not cover, because that
// restart keeps the token. This is the backstop underneath suture's own
// per-service restart, which handles the common case of a pipeline dying
// mid-run.
//
// Reference: 4.6 CameraSupervisor's watchdog bullet: "for each camera
// marked active, if its pipeline process is not alive, call
// start_camera(name) again."
func (s *Supervisor) watchdogTick() {
	s.mu.Lock()
	var restart []string
	for name, e := range s.cameras {
		if e.desired && !e.hasToken {
			restart = append(restart, name)
		}
	}
	s.mu.Unlock()

	for _, name := range restart {
		s.log.Warn("watchdog: camera marked active has no running pipeline, restarting", "camera", name)
		if err := s.StartCamera(name); err != nil {
			s.log.Error("watchdog: failed to restart camera", "camera", name, "error", err)
		}
	}
}

// buildService opens (creating if needed) the camera's pipeline log file
// and wraps a procsupService around it, tracking the file handle so a
// leaked log file shows up in s.resources.LeakedResources().
func (s *Supervisor) buildService(d *camera.Descriptor) (*procsupService, error) {
	logPath := d.LogPath
	if logPath == "" {
		logPath = filepath.Join(s.cfg.LogDir, d.Name+".log")
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, rerror.Wrap(rerror.KindIO, "create log directory for "+d.Name, err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, rerror.Wrap(rerror.KindIO, "open pipeline log for "+d.Name, err)
	}
	s.resources.TrackFile(d.Name, f)

	return &procsupService{
		name:        d.Name,
		stopTimeout: s.cfg.StopTimeout,
		logFile:     f,
		logger:      s.log,
	}, nil
}

// buildRetentionBackends constructs one retention.Backend per configured
// storage descriptor, keyed the same way Sweep expects: by storage name.
func (s *Supervisor) buildRetentionBackends() ([]retention.Backend, map[string]int) {
	backends := make([]retention.Backend, 0, len(s.cfg.Storage))
	retentionDays := make(map[string]int, len(s.cfg.Storage))

	for name, st := range s.cfg.Storage {
		retentionDays[name] = st.Retention
		switch st.Kind {
		case camera.StorageKindLocal:
			backends = append(backends, retention.NewLocalBackend(name, st.RootPath))
		case camera.StorageKindObject:
			client := sink.NewS3Client(sink.ObjectStoreConfig{
				Region:      st.Region,
				Endpoint:    st.Endpoint,
				AccessKeyID: st.AccessKeyID,
				SecretKey:   st.SecretKey,
				Timeout:     st.Timeout,
			})
			backends = append(backends, retention.NewObjectStoreBackend(name, st.Bucket, st.KeyPrefix, client))
		case camera.StorageKindBroadcast:
			client := broadcastapi.NewClient(st.BroadcastAPIURL, st.BroadcastToken, broadcastapi.WithTimeout(st.Timeout))
			backends = append(backends, retention.NewBroadcastBackend(name, client))
		default:
			s.log.Warn("retention: unknown storage kind, skipping", "storage", name, "kind", st.Kind)
		}
	}
	return backends, retentionDays
}

// procsupService adapts a re-exec'd pipeline child into a suture.Service.
// Serve distinguishes a graceful ctx-cancelled stop (return nil, no
// restart) from an unexpected exit (return an error, suture restarts by
// calling Serve again on the same token).
//
// Reference: internal/procsup's supervisor/pipeline process boundary, and
// 4.6 CameraSupervisor's "pipeline recreated after crash" invariant, here
// satisfied primarily by suture's own restart rather than the watchdog
// tick.
type procsupService struct {
	name        string
	stopTimeout time.Duration
	logFile     *os.File
	logger      *slog.Logger

	exitCode atomic.Int32
	attempts atomic.Int32

	mu        sync.Mutex
	startedAt time.Time
	lastErr   string
}

func (p *procsupService) String() string { return "pipeline:" + p.name }

func (p *procsupService) Serve(ctx context.Context) error {
	p.attempts.Add(1)
	p.mu.Lock()
	p.startedAt = time.Now()
	p.lastErr = ""
	p.mu.Unlock()

	// Spawn against a context independent of ctx: procsup.Spawn uses
	// exec.CommandContext, which SIGKILLs on context cancellation. Stopping
	// is instead driven explicitly below via Process.Stop(), which sends
	// SIGTERM and only escalates to SIGKILL after stopTimeout.
	proc, err := procsup.Spawn(context.Background(), p.name, p.logFile, p.stopTimeout)
	if err != nil {
		p.exitCode.Store(-1)
		p.mu.Lock()
		p.lastErr = err.Error()
		p.mu.Unlock()
		return rerror.Wrap(rerror.KindInternal, "spawn pipeline child for "+p.name, err)
	}

	exited := make(chan int, 1)
	go func() { exited <- proc.Wait() }()

	select {
	case <-ctx.Done():
		code := proc.Stop()
		p.exitCode.Store(int32(code))
		return nil
	case code := <-exited:
		p.exitCode.Store(int32(code))
		if code == 0 {
			return nil
		}
		msg := fmt.Sprintf("camera %q pipeline child exited with code %d", p.name, code)
		p.mu.Lock()
		p.lastErr = msg
		p.mu.Unlock()
		return rerror.New(rerror.KindIO, msg)
	}
}

// snapshot reads the fields health.CameraInfo needs under p.mu.
func (p *procsupService) snapshot() (uptime time.Duration, lastErr string, restarts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.startedAt.IsZero() {
		uptime = time.Since(p.startedAt)
	}
	lastErr = p.lastErr
	restarts = int(p.attempts.Load()) - 1
	if restarts < 0 {
		restarts = 0
	}
	return uptime, lastErr, restarts
}

// Cameras implements health.StatusProvider.
func (s *Supervisor) Cameras() []health.CameraInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]health.CameraInfo, 0, len(s.cameras))
	for name, e := range s.cameras {
		info := health.CameraInfo{Name: name}
		switch {
		case e.hasToken && e.svc != nil:
			uptime, lastErr, restarts := e.svc.snapshot()
			info.State = "running"
			info.Uptime = uptime
			info.Error = lastErr
			info.Restarts = restarts
			info.Healthy = lastErr == ""
		case e.desired:
			info.State = "starting"
			info.Healthy = false
		default:
			info.State = "stopped"
			info.Healthy = true
		}
		out = append(out, info)
	}
	return out
}

// SystemInfo implements health.SystemInfoProvider, reporting free space on
// whichever local storage backend's filesystem recordings actually land
// on. With no local backend configured (object/broadcast storage only),
// it falls back to the log directory's filesystem.
func (s *Supervisor) SystemInfo() health.SystemInfo {
	root := s.cfg.LogDir
	for _, st := range s.cfg.Storage {
		if st.Kind == camera.StorageKindLocal && st.RootPath != "" {
			root = st.RootPath
			break
		}
	}
	return health.NewDiskSystemInfo(root).SystemInfo()
}
