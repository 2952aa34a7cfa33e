package updater

import "fmt"

// File identifies a firmware image and where it is stored locally.
type File struct {
	Version int    `json:"version"`
	Path    string `json:"path"`
}

func (f File) String() string {
	return fmt.Sprintf("v.%d at %s", f.Version, f.Path)
}
