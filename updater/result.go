package updater

// Result carries either a value or the error that prevented producing it.
// Collaborators report every outcome, progress included, through it.
type Result[T any] struct {
	value T
	err   error
}

func Success[T any](value T) Result[T] {
	return Result[T]{value: value}
}

func Failure[T any](err error) Result[T] {
	if err == nil {
		panic("updater: failure result without error")
	}

	return Result[T]{err: err}
}

func (r Result[T]) Get() (T, error) {
	return r.value, r.err
}

func (r Result[T]) Ok() bool {
	return r.err == nil
}

func (r Result[T]) Err() error {
	return r.err
}

// Progress is a single report of a transfer. The final report of a
// successful transfer has Complete set.
type Progress struct {
	Percentage int
	Complete   bool
}

// Completed is the terminal report of a successful transfer.
func Completed() Result[Progress] {
	return Success(Progress{Percentage: 100, Complete: true})
}

// Percent is an intermediate report of a transfer.
func Percent(p int) Result[Progress] {
	return Success(Progress{Percentage: p})
}
