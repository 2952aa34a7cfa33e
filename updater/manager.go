package updater

import (
	"context"
	"sync"

	"github.com/go-errors/errors"
)

type Config struct {
	Remote    RemoteService
	DataStore DataStore
	Device    Device
	Validator Validator
	Observer  Observer
	Logger    Logger
}

// Manager drives firmware update runs through their states.
//
// All reads and writes of the current state happen on a single work queue.
// Collaborators run on their own goroutines and only hand their results
// back through that queue. Observers are called from a second queue, in the
// order the states were reached.
type Manager struct {
	remote    RemoteService
	store     DataStore
	device    Device
	validator Validator
	observer  Observer
	log       Logger

	work     *queue
	delivery *queue

	// state and run are owned by the work queue; stateMtx only guards
	// readers on other goroutines.
	stateMtx sync.RWMutex
	state    State
	run      uint64

	clients      map[uint32]*StateClient
	clientMtx    sync.Mutex
	nextClientID uint32

	ctx     context.Context
	cancel  context.CancelFunc
	quit    chan struct{}
	wg      sync.WaitGroup
	lifeMtx sync.Mutex
	running bool
	stopped bool
}

func NewManager(config *Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		remote:    config.Remote,
		store:     config.DataStore,
		device:    config.Device,
		validator: config.Validator,
		work:      newQueue(),
		delivery:  newQueue(),
		state:     None{},
		clients:   make(map[uint32]*StateClient),
		ctx:       ctx,
		cancel:    cancel,
		quit:      make(chan struct{}),
	}

	if config.Observer != nil {
		m.observer = config.Observer
	} else {
		m.observer = noopObserver{}
	}

	if config.Logger != nil {
		m.log = config.Logger
	} else {
		m.log = noopLogger{}
	}

	return m
}

func (m *Manager) Start() error {
	m.lifeMtx.Lock()
	defer m.lifeMtx.Unlock()

	if m.stopped {
		return errors.New("Manager was stopped")
	}

	if m.running {
		return errors.New("Manager already started")
	}

	if m.remote == nil || m.store == nil || m.device == nil || m.validator == nil {
		return errors.New("Manager is missing a collaborator")
	}

	m.running = true

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.work.run(m.quit)
	}()
	go func() {
		defer m.wg.Done()
		m.delivery.run(m.quit)
	}()

	m.log.Debugf("Started update manager")

	return nil
}

// Stop abandons the active run, if any, and waits for all goroutines of
// the manager to finish.
func (m *Manager) Stop() error {
	m.lifeMtx.Lock()
	if m.stopped {
		m.lifeMtx.Unlock()
		return nil
	}
	m.stopped = true
	m.lifeMtx.Unlock()

	m.cancel()
	close(m.quit)
	m.wg.Wait()

	m.closeClients()

	m.log.Debugf("Stopped update manager")

	return nil
}

// State returns the current state.
func (m *Manager) State() State {
	m.stateMtx.RLock()
	defer m.stateMtx.RUnlock()

	return m.state
}

// StartUpdate begins a new run. The manager can be reused: a run may start
// from the initial state or after the previous one reached Done or Failed.
func (m *Manager) StartUpdate() error {
	reply := make(chan error, 1)

	err := m.submit(func() {
		if !Idle(m.state) {
			reply <- ErrUpdateInProgress
			return
		}

		m.run++
		m.log.Infof("Starting update run %v", m.run)
		m.apply(Started{})

		reply <- nil
	})
	if err != nil {
		return err
	}

	select {
	case err := <-reply:
		return err
	case <-m.quit:
		return errors.New("Manager stopped")
	}
}

// InjectFault makes the collaborator of the current stage fail its next
// report. It returns the failure that was armed, if the current state has
// a collaborator at work.
func (m *Manager) InjectFault() (Error, bool) {
	type armed struct {
		err Error
		ok  bool
	}

	reply := make(chan armed, 1)

	err := m.submit(func() {
		var (
			target Injector
			fault  Error
		)

		switch m.state.(type) {
		case CheckingForUpdate, Downloading:
			target, fault = m.remote, ErrAPI
		case Downloaded:
			target, fault = m.store, ErrStoring
		case UploadingToDevice:
			target, fault = m.device, ErrDeviceUploading
		case WaitingForRestart:
			target, fault = m.device, ErrDeviceInstalling
		default:
			m.log.Debugf("Nothing to fail in state %v", m.state.Name())
			reply <- armed{}
			return
		}

		m.log.Infof("Injecting %v in state %v", fault, m.state.Name())
		target.InjectError(fault)

		reply <- armed{err: fault, ok: true}
	})
	if err != nil {
		return 0, false
	}

	select {
	case a := <-reply:
		return a.err, a.ok
	case <-m.quit:
		return 0, false
	}
}

func (m *Manager) submit(fn func()) error {
	m.lifeMtx.Lock()
	defer m.lifeMtx.Unlock()

	if !m.running || m.stopped {
		return errors.New("Manager is not running")
	}

	m.work.push(fn)

	return nil
}

// changeState schedules a transition of the given run.
func (m *Manager) changeState(run uint64, next State) {
	m.work.push(func() {
		if !m.active(run) {
			m.log.Debugf("Dropping transition to %v of finished run %v", next.Name(), run)
			return
		}

		m.apply(next)
	})
}

// active reports whether results of the given run may still change the
// state. Must be called on the work queue.
func (m *Manager) active(run uint64) bool {
	return run == m.run && !Terminal(m.state)
}

// apply stores the new state, notifies about it when it differs from the
// previous one and runs its entry action. Must be called on the work queue.
func (m *Manager) apply(next State) {
	prev := m.state

	m.stateMtx.Lock()
	m.state = next
	m.stateMtx.Unlock()

	if next != prev {
		m.log.Debugf("State changed from %v to %v", prev.Name(), next.Name())
		m.delivery.push(func() {
			m.observer.StateChanged(next)
			m.broadcast(next)
		})
	}

	m.enter(next)
}

func (m *Manager) enter(state State) {
	run := m.run

	switch s := state.(type) {
	case Started:
		version, err := m.store.CurrentVersion().Get()
		if err != nil {
			m.log.Errorf("Could not read current firmware version: %v", err)
			m.changeState(run, Failed{Cause: Cause(err, ErrNoCurrentVersion)})
			return
		}

		m.changeState(run, CheckingForUpdate{CurrentVersion: version})

	case CheckingForUpdate:
		await(m, run, m.remote.CheckForUpdate(m.ctx, s.CurrentVersion), func(r Result[int]) {
			version, err := r.Get()
			if err != nil {
				m.log.Errorf("Could not check for update: %v", err)
				m.apply(Failed{Cause: Cause(err, ErrAPI)})
				return
			}

			m.download(run, version)
		})

	case Downloaded:
		m.validateAndStore(run, File{Version: s.NewVersion, Path: s.Path})

	case StoredToFile:
		if !m.device.Ready(m.ctx) {
			m.log.Warnf("Device is not ready for an upload")
			m.changeState(run, Failed{Cause: ErrDeviceNotReady})
			return
		}

		file := s.File
		m.follow(run, m.device.Upload(m.ctx, file), ErrDeviceUploading, UploadedToDevice{}, func(p int) State {
			return UploadingToDevice{File: file, Percentage: p}
		})

	case UploadedToDevice:
		// queued ahead of the install result
		m.changeState(run, WaitingForRestart{})

		await(m, run, m.device.InstallAndRestart(m.ctx), func(r Result[bool]) {
			ok, err := r.Get()
			switch {
			case err != nil:
				m.log.Errorf("Could not install firmware on device: %v", err)
				m.apply(Failed{Cause: Cause(err, ErrDeviceInstalling)})
			case !ok:
				m.log.Errorf("Device did not install firmware")
				m.apply(Failed{Cause: ErrDeviceInstalling})
			default:
				m.log.Infof("Firmware update of run %v done", run)
				m.apply(Done{})
			}
		})

	case Done:
		m.disarm()

	case Failed:
		m.log.Errorf("Update run %v failed: %v", run, s.Cause)
		m.disarm()

	case None, Downloading, UploadingToDevice, WaitingForRestart:
	}
}

// disarm drops faults injected into the finished run that no collaborator
// reported, so they cannot fail the next run.
func (m *Manager) disarm() {
	for _, c := range []Injector{m.remote, m.validator, m.store, m.device} {
		c.Disarm()
	}
}

func (m *Manager) download(run uint64, version int) {
	path := m.store.DownloadPath(version)

	m.log.Infof("Downloading firmware v.%d to %v", version, path)
	m.apply(Downloading{NewVersion: version, Percentage: 0, Path: path})

	m.follow(run, m.remote.Download(m.ctx, version, path), ErrAPI, Downloaded{NewVersion: version, Path: path}, func(p int) State {
		return Downloading{NewVersion: version, Percentage: p, Path: path}
	})
}

func (m *Manager) validateAndStore(run uint64, downloaded File) {
	await(m, run, m.validator.UnpackAndValidate(m.ctx, downloaded), func(r Result[File]) {
		file, err := r.Get()
		if err != nil {
			m.log.Errorf("Could not validate firmware %v: %v", downloaded, err)
			m.apply(Failed{Cause: Cause(err, ErrUnpacking)})
			return
		}

		await(m, run, m.store.Store(m.ctx, file), func(r Result[bool]) {
			ok, err := r.Get()
			switch {
			case err != nil:
				m.log.Errorf("Could not store firmware %v: %v", file, err)
				m.apply(Failed{Cause: Cause(err, ErrStoring)})
			case !ok:
				m.log.Errorf("Firmware %v was not stored", file)
				m.apply(Failed{Cause: ErrStoring})
			default:
				m.apply(StoredToFile{File: file})
			}
		})
	})
}

// await hands the single result of an operation back to the work queue.
// fn runs on the work queue and only while the run is still active.
func await[T any](m *Manager, run uint64, results <-chan Result[T], fn func(Result[T])) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		var r Result[T]

		select {
		case res, ok := <-results:
			if ok {
				r = res
			} else {
				r = Failure[T](errors.New("Operation ended without a result"))
			}
		case <-m.quit:
			return
		}

		m.work.push(func() {
			if !m.active(run) {
				m.log.Debugf("Dropping result of finished run %v", run)
				return
			}

			fn(r)
		})
	}()
}

// follow hands every report of a transfer back to the work queue. Progress
// reports become the states made by progress, successful completion becomes
// done and a failure fails the run with fallback unless it carries a cause.
func (m *Manager) follow(run uint64, reports <-chan Result[Progress], fallback Error, done State, progress func(int) State) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		for {
			select {
			case r, ok := <-reports:
				if !ok {
					m.changeState(run, Failed{Cause: fallback})
					return
				}

				p, err := r.Get()
				switch {
				case err != nil:
					m.log.Errorf("Transfer failed: %v", err)
					m.changeState(run, Failed{Cause: Cause(err, fallback)})
					return
				case p.Complete:
					m.changeState(run, done)
					return
				default:
					m.changeState(run, progress(p.Percentage))
				}
			case <-m.quit:
				return
			}
		}
	}()
}
