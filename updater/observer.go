package updater

// Observer is notified about every distinct state an update run reaches.
// Notifications arrive in order on a single goroutine that is not the one
// driving the run.
type Observer interface {
	StateChanged(state State)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(state State)

func (f ObserverFunc) StateChanged(state State) {
	f(state)
}

type multiObserver []Observer

func (m multiObserver) StateChanged(state State) {
	for _, o := range m {
		o.StateChanged(state)
	}
}

// Observers notifies each of the given observers in turn.
func Observers(observers ...Observer) Observer {
	var m multiObserver

	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}

	return m
}

type noopObserver struct{}

// Compile time check for protocol compatibility
var _ Observer = noopObserver{}

func (noopObserver) StateChanged(state State) {}
