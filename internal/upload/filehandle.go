package upload

import "os"

// fileHandle is the common DocHandle backing every handler in this package:
// a reference to the downloaded temporary file plus whatever a handler
// parsed out of it.
type fileHandle struct {
	path string
	f    *os.File
}

func openHandle(path string) (*fileHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &fileHandle{path: path, f: f}, nil
}

func (h *fileHandle) Close() error {
	if h.f == nil {
		return nil
	}
	return h.f.Close()
}
