package updater

import (
	"context"
	"sync"
)

// gate blocks a fake before each report until the test lets it through.
// A nil gate never blocks.
type gate chan struct{}

func (g gate) pass(ctx context.Context) bool {
	if g == nil {
		return true
	}

	select {
	case <-g:
		return true
	case <-ctx.Done():
		return false
	}
}

func send[T any](ctx context.Context, out chan<- Result[T], r Result[T]) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// transfer reports percents and a terminal result, consulting the pending
// error before every report.
func transfer(ctx context.Context, pending *PendingError, step gate, percents []int, failure error) <-chan Result[Progress] {
	out := make(chan Result[Progress])

	go func() {
		defer close(out)

		for _, p := range percents {
			if !step.pass(ctx) {
				return
			}

			if err, ok := pending.Take(); ok {
				send(ctx, out, Failure[Progress](err))
				return
			}

			if !send(ctx, out, Percent(p)) {
				return
			}
		}

		if !step.pass(ctx) {
			return
		}

		if err, ok := pending.Take(); ok {
			send(ctx, out, Failure[Progress](err))
			return
		}

		if failure != nil {
			send(ctx, out, Failure[Progress](failure))
			return
		}

		send(ctx, out, Completed())
	}()

	return out
}

func single[T any](ctx context.Context, pending *PendingError, step gate, value T, failure error) <-chan Result[T] {
	out := make(chan Result[T], 1)

	go func() {
		if !step.pass(ctx) {
			return
		}

		if err, ok := pending.Take(); ok {
			out <- Failure[T](err)
			return
		}

		if failure != nil {
			out <- Failure[T](failure)
			return
		}

		out <- Success(value)
	}()

	return out
}

type fakeRemote struct {
	PendingError
	newVersion   int
	checkErr     error
	checkStep    gate
	percents     []int
	downloadErr  error
	downloadStep gate
}

func (f *fakeRemote) CheckForUpdate(ctx context.Context, currentVersion int) <-chan Result[int] {
	return single(ctx, &f.PendingError, f.checkStep, f.newVersion, f.checkErr)
}

func (f *fakeRemote) Download(ctx context.Context, version int, path string) <-chan Result[Progress] {
	return transfer(ctx, &f.PendingError, f.downloadStep, f.percents, f.downloadErr)
}

type fakeValidator struct {
	PendingError
	err  error
	step gate
}

func (f *fakeValidator) UnpackAndValidate(ctx context.Context, file File) <-chan Result[File] {
	unpacked := File{Version: file.Version, Path: file.Path + ".unpacked"}
	return single(ctx, &f.PendingError, f.step, unpacked, f.err)
}

type fakeStore struct {
	PendingError
	version    Result[int]
	stored     bool
	storeErr   error
	storeStep  gate
	mtx        sync.Mutex
	storedFile []File
}

func (f *fakeStore) CurrentVersion() Result[int] {
	return f.version
}

func (f *fakeStore) DownloadPath(version int) string {
	return "some/local/path"
}

func (f *fakeStore) Store(ctx context.Context, file File) <-chan Result[bool] {
	f.mtx.Lock()
	f.storedFile = append(f.storedFile, file)
	f.mtx.Unlock()

	return single(ctx, &f.PendingError, f.storeStep, f.stored, f.storeErr)
}

type fakeDevice struct {
	PendingError
	ready       bool
	percents    []int
	uploadErr   error
	uploadStep  gate
	installed   bool
	installErr  error
	installStep gate
}

func (f *fakeDevice) Ready(ctx context.Context) bool {
	return f.ready
}

func (f *fakeDevice) Upload(ctx context.Context, file File) <-chan Result[Progress] {
	return transfer(ctx, &f.PendingError, f.uploadStep, f.percents, f.uploadErr)
}

func (f *fakeDevice) InstallAndRestart(ctx context.Context) <-chan Result[bool] {
	return single(ctx, &f.PendingError, f.installStep, f.installed, f.installErr)
}

// recorder keeps every state it is notified about.
type recorder struct {
	mtx    sync.Mutex
	states []State
}

func (r *recorder) StateChanged(state State) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.states = append(r.states, state)
}

func (r *recorder) all() []State {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return append([]State(nil), r.states...)
}

func (r *recorder) last() State {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if len(r.states) == 0 {
		return None{}
	}

	return r.states[len(r.states)-1]
}

func (r *recorder) seen(pred func(State) bool) int {
	n := 0
	for _, s := range r.all() {
		if pred(s) {
			n++
		}
	}

	return n
}

type fixture struct {
	remote    *fakeRemote
	validator *fakeValidator
	store     *fakeStore
	device    *fakeDevice
	recorder  *recorder
}

// happyFixture returns collaborators that take a device from v.3 to v.4.
func happyFixture() *fixture {
	return &fixture{
		remote: &fakeRemote{
			newVersion: 4,
			percents:   []int{95, 96, 97, 98, 99},
		},
		validator: &fakeValidator{},
		store: &fakeStore{
			version: Success(3),
			stored:  true,
		},
		device: &fakeDevice{
			ready:     true,
			percents:  []int{95, 96, 97, 98, 99},
			installed: true,
		},
		recorder: &recorder{},
	}
}

func (f *fixture) manager() *Manager {
	return NewManager(&Config{
		Remote:    f.remote,
		DataStore: f.store,
		Device:    f.device,
		Validator: f.validator,
		Observer:  f.recorder,
	})
}
