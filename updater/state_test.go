package updater

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateEquality(t *testing.T) {
	file := File{Version: 4, Path: "a"}

	tests := []struct {
		name  string
		a, b  State
		equal bool
	}{
		{"same download", Downloading{4, 95, "a"}, Downloading{4, 95, "a"}, true},
		{"download percentage", Downloading{4, 95, "a"}, Downloading{4, 96, "a"}, false},
		{"download path", Downloading{4, 95, "a"}, Downloading{4, 95, "b"}, false},
		{"download version", Downloading{4, 95, "a"}, Downloading{5, 95, "a"}, false},
		{"downloaded path", Downloaded{4, "a"}, Downloaded{4, "b"}, false},
		{"same upload", UploadingToDevice{file, 50}, UploadingToDevice{file, 50}, true},
		{"upload percentage", UploadingToDevice{file, 50}, UploadingToDevice{file, 51}, false},
		{"upload file", UploadingToDevice{file, 50}, UploadingToDevice{File{5, "a"}, 50}, false},
		{"stored file", StoredToFile{file}, StoredToFile{File{4, "a"}}, true},
		{"checking", CheckingForUpdate{3}, CheckingForUpdate{4}, false},
		{"failure cause", Failed{ErrAPI}, Failed{ErrStoring}, false},
		{"same failure", Failed{ErrAPI}, Failed{ErrAPI}, true},
		{"variants", Done{}, WaitingForRestart{}, false},
		{"empty variants", None{}, None{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, tt.a == tt.b)
		})
	}
}

func TestStateString(t *testing.T) {
	file := File{Version: 4, Path: "a"}

	tests := []struct {
		state State
		want  string
	}{
		{None{}, "idle"},
		{Started{}, "started"},
		{CheckingForUpdate{3}, "v.3 checking for update..."},
		{Downloading{4, 96, "a"}, "v.4 API downloading: 96%"},
		{Downloaded{4, "a"}, "v.4 downloaded"},
		{StoredToFile{file}, "file stored"},
		{UploadingToDevice{file, 97}, "uploading to device: 97%"},
		{UploadedToDevice{}, "uploaded to device"},
		{WaitingForRestart{}, "waiting for device restart..."},
		{Done{}, "done"},
		{Failed{ErrDeviceNotReady}, "Error: device-not-ready"},
	}

	for _, tt := range tests {
		t.Run(tt.state.Name(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(Done{}))
	assert.True(t, Terminal(Failed{ErrAPI}))
	assert.False(t, Terminal(None{}))
	assert.False(t, Terminal(WaitingForRestart{}))

	assert.True(t, Idle(None{}))
	assert.True(t, Idle(Done{}))
	assert.False(t, Idle(Started{}))
}
