// Package validate checks downloaded firmware images before they are
// stored and sent to the device.
package validate

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-errors/errors"
	"github.com/hashicorp/go-version"
	"github.com/the-lightning-land/sweetfw/updater"
)

var gzipMagic = []byte{0x1f, 0x8b}

type Config struct {
	// Constraint restricts the versions that may be installed, for example
	// ">= 4, < 10". Empty allows every version.
	Constraint string
	// Checksums maps versions to the hex SHA-256 of their unpacked image.
	// Versions without an entry are not checked.
	Checksums map[int]string
	Logger    Logger
}

// Validator unpacks gzip compressed images and rejects images that are
// empty, outside of the version constraint or do not match their checksum.
type Validator struct {
	updater.PendingError
	constraints version.Constraints
	checksums   map[int]string
	log         Logger
}

// Compile time check for protocol compatibility
var _ updater.Validator = (*Validator)(nil)

func New(config *Config) (*Validator, error) {
	v := &Validator{
		checksums: make(map[int]string),
		log:       config.Logger,
	}

	if v.log == nil {
		v.log = noopLogger{}
	}

	if config.Constraint != "" {
		constraints, err := version.NewConstraint(config.Constraint)
		if err != nil {
			return nil, errors.Errorf("Invalid version constraint %q: %v", config.Constraint, err)
		}

		v.constraints = constraints
	}

	for ver, sum := range config.Checksums {
		v.checksums[ver] = strings.ToLower(sum)
	}

	return v, nil
}

func (v *Validator) UnpackAndValidate(ctx context.Context, file updater.File) <-chan updater.Result[updater.File] {
	out := make(chan updater.Result[updater.File], 1)

	go func() {
		if err, ok := v.Take(); ok {
			out <- updater.Failure[updater.File](err)
			return
		}

		unpacked, err := v.unpack(file)
		if err != nil {
			v.log.Errorf("Could not unpack %v: %v", file, err)
			out <- updater.Failure[updater.File](updater.Wrap(updater.ErrUnpacking, err))
			return
		}

		err = v.validate(unpacked)
		if err != nil {
			v.log.Errorf("Rejected %v: %v", unpacked, err)
			out <- updater.Failure[updater.File](updater.Wrap(updater.ErrDownloadedVersionInvalid, err))
			return
		}

		v.log.Infof("Validated %v", unpacked)

		out <- updater.Success(unpacked)
	}()

	return out
}

// unpack decompresses gzip images next to the download. Other images are
// used as they are.
func (v *Validator) unpack(file updater.File) (updater.File, error) {
	in, err := os.Open(file.Path)
	if err != nil {
		return file, errors.Errorf("Could not open image: %v", err)
	}
	defer in.Close()

	reader := bufio.NewReader(in)

	magic, err := reader.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		return file, errors.Errorf("Could not read image: %v", err)
	}

	if !bytes.Equal(magic, gzipMagic) {
		return file, nil
	}

	gz, err := gzip.NewReader(reader)
	if err != nil {
		return file, errors.Errorf("Could not read compressed image: %v", err)
	}
	defer gz.Close()

	unpacked := updater.File{
		Version: file.Version,
		Path:    strings.TrimSuffix(file.Path, ".gz") + ".img",
	}

	dst, err := os.OpenFile(unpacked.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return file, errors.Errorf("Could not create unpacked image: %v", err)
	}

	_, err = io.Copy(dst, gz)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(unpacked.Path)
		return file, errors.Errorf("Could not unpack image: %v", err)
	}

	return unpacked, nil
}

func (v *Validator) validate(file updater.File) error {
	if v.constraints != nil {
		ver, err := version.NewVersion(strconv.Itoa(file.Version))
		if err != nil {
			return errors.Errorf("Invalid version %v: %v", file.Version, err)
		}

		if !v.constraints.Check(ver) {
			return errors.Errorf("Version %v does not satisfy %v", ver, v.constraints)
		}
	}

	in, err := os.Open(file.Path)
	if err != nil {
		return errors.Errorf("Could not open image: %v", err)
	}
	defer in.Close()

	hash := sha256.New()

	n, err := io.Copy(hash, in)
	if err != nil {
		return errors.Errorf("Could not read image: %v", err)
	}

	if n == 0 {
		return errors.New("Image is empty")
	}

	if want, ok := v.checksums[file.Version]; ok {
		if got := hex.EncodeToString(hash.Sum(nil)); got != want {
			return errors.Errorf("Checksum %v does not match %v", got, want)
		}
	}

	return nil
}
