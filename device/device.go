// Package device implements a device that is attached to the host: uploads
// land in a staging directory and installing replaces the image the device
// boots from before its service is restarted.
package device

import (
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-errors/errors"
	"github.com/inconshreveable/go-update"
	"github.com/the-lightning-land/sweetfw/updater"
)

const defaultChunkSize = 32 * 1024

type Config struct {
	// StagingDir receives uploaded images.
	StagingDir string
	// ImagePath is the firmware image of the device. It has to exist.
	ImagePath string
	// MinFreeBytes is the space the staging dir needs for the device to be
	// ready.
	MinFreeBytes uint64
	// ReadyPin is the GPIO the device holds high while it accepts updates.
	ReadyPin ReadyPin
	// Restarter restarts the device once the image was replaced.
	Restarter Restarter
	ChunkSize int
	Logger    Logger
}

// ReadyPin reports the level of the device's ready line.
type ReadyPin interface {
	High() bool
}

// Restarter restarts the device and reports whether it came back up.
type Restarter interface {
	Restart(ctx context.Context) (bool, error)
}

// Local is a device attached to the host.
type Local struct {
	updater.PendingError
	stagingDir   string
	imagePath    string
	minFreeBytes uint64
	pin          ReadyPin
	restarter    Restarter
	chunkSize    int
	log          Logger

	mtx      sync.Mutex
	staged   string
	checksum []byte
}

// Compile time check for protocol compatibility
var _ updater.Device = (*Local)(nil)

func NewLocal(config *Config) *Local {
	l := &Local{
		stagingDir:   config.StagingDir,
		imagePath:    config.ImagePath,
		minFreeBytes: config.MinFreeBytes,
		pin:          config.ReadyPin,
		restarter:    config.Restarter,
		chunkSize:    config.ChunkSize,
		log:          config.Logger,
	}

	if l.chunkSize <= 0 {
		l.chunkSize = defaultChunkSize
	}

	if l.log == nil {
		l.log = noopLogger{}
	}

	return l
}

func (l *Local) Ready(ctx context.Context) bool {
	err := os.MkdirAll(l.stagingDir, 0755)
	if err != nil {
		l.log.Warnf("Could not create staging dir: %v", err)
		return false
	}

	free, err := freeSpace(l.stagingDir)
	if err != nil {
		l.log.Warnf("Could not determine free space: %v", err)
		return false
	}

	if free < l.minFreeBytes {
		l.log.Warnf("Only %d bytes free in %v, need %d", free, l.stagingDir, l.minFreeBytes)
		return false
	}

	if l.pin != nil && !l.pin.High() {
		l.log.Warnf("Device does not signal readiness")
		return false
	}

	return true
}

func (l *Local) Upload(ctx context.Context, file updater.File) <-chan updater.Result[updater.Progress] {
	out := make(chan updater.Result[updater.Progress])

	go func() {
		defer close(out)

		staged := filepath.Join(l.stagingDir, filepath.Base(file.Path))

		l.log.Infof("Uploading %v to %v", file, staged)

		sum, err := l.copy(ctx, file.Path, staged, func(p int) error {
			if err, ok := l.Take(); ok {
				return err
			}

			select {
			case out <- updater.Percent(p):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err == nil {
			if injected, ok := l.Take(); ok {
				err = injected
			}
		}
		if err != nil {
			l.log.Errorf("Could not upload %v: %v", file, err)
			_ = os.Remove(staged)

			if _, injected := err.(updater.Error); !injected {
				err = updater.Wrap(updater.ErrDeviceUploading, err)
			}

			select {
			case out <- updater.Failure[updater.Progress](err):
			case <-ctx.Done():
			}
			return
		}

		l.mtx.Lock()
		l.staged = staged
		l.checksum = sum
		l.mtx.Unlock()

		select {
		case out <- updater.Completed():
		case <-ctx.Done():
		}
	}()

	return out
}

// copy transfers src to dst in chunks and calls progress whenever the
// percentage below 100 changes. It returns the SHA-256 of the data.
func (l *Local) copy(ctx context.Context, src, dst string, progress func(int) error) ([]byte, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, errors.Errorf("Could not open image: %v", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return nil, errors.Errorf("Could not stat image: %v", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Errorf("Could not create staged image: %v", err)
	}
	defer out.Close()

	h := sha256.New()
	w := io.MultiWriter(out, h)
	buf := make([]byte, l.chunkSize)
	size := info.Size()
	last := -1

	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, readErr := in.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return nil, errors.Errorf("Could not write staged image: %v", err)
			}

			written += int64(n)

			if p := percentage(written, size); p < 100 && p != last {
				last = p
				if err := progress(p); err != nil {
					return nil, err
				}
			}
		}

		if readErr == io.EOF {
			break
		}

		if readErr != nil {
			return nil, errors.Errorf("Could not read image: %v", readErr)
		}
	}

	if err := out.Sync(); err != nil {
		return nil, errors.Errorf("Could not sync staged image: %v", err)
	}

	return h.Sum(nil), nil
}

func (l *Local) InstallAndRestart(ctx context.Context) <-chan updater.Result[bool] {
	out := make(chan updater.Result[bool], 1)

	go func() {
		if err, ok := l.Take(); ok {
			out <- updater.Failure[bool](err)
			return
		}

		err := l.install()
		if err != nil {
			l.log.Errorf("Could not install firmware: %v", err)
			out <- updater.Failure[bool](updater.Wrap(updater.ErrDeviceInstalling, err))
			return
		}

		if l.restarter == nil {
			out <- updater.Success(true)
			return
		}

		ok, err := l.restarter.Restart(ctx)
		if err != nil {
			l.log.Errorf("Could not restart device: %v", err)
			out <- updater.Failure[bool](updater.Wrap(updater.ErrDeviceInstalling, err))
			return
		}

		out <- updater.Success(ok)
	}()

	return out
}

// install replaces the device image with the staged one. The previous
// image is restored if the replacement fails half way.
func (l *Local) install() error {
	l.mtx.Lock()
	staged, checksum := l.staged, l.checksum
	l.mtx.Unlock()

	if staged == "" {
		return errors.New("No image staged")
	}

	in, err := os.Open(staged)
	if err != nil {
		return errors.Errorf("Could not open staged image: %v", err)
	}
	defer in.Close()

	l.log.Infof("Installing %v to %v", staged, l.imagePath)

	err = update.Apply(in, update.Options{
		TargetPath: l.imagePath,
		TargetMode: 0644,
		Checksum:   checksum,
	})
	if err != nil {
		if rerr := update.RollbackError(err); rerr != nil {
			return errors.Errorf("Could not roll back after %v: %v", err, rerr)
		}

		return errors.Errorf("Could not replace image: %v", err)
	}

	l.mtx.Lock()
	l.staged = ""
	l.checksum = nil
	l.mtx.Unlock()

	return nil
}

func percentage(written, size int64) int {
	if size <= 0 {
		return 100
	}

	return int(written * 100 / size)
}
