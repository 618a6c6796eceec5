package executor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

const osAppendFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY

// WriteFileHandler implements the write-file step kind. The write-file
// step's path/content/append/mode fields don't fit the generic
// (cmd, wd, env, timeout) capability contract, so the agent worker hands a
// structured WritePayload to Registry.WriteFile, which calls ExecuteWrite;
// a relative payload path is joined onto the working directory.
type WriteFileHandler struct {
	fs afero.Fs
}

// NewWriteFileHandler returns a handler backed by the OS filesystem via afero,
// grounded on internal/variables/store.go's afero.Fs-backed persistence.
func NewWriteFileHandler() *WriteFileHandler {
	return &WriteFileHandler{fs: afero.NewOsFs()}
}

// NewWriteFileHandlerFS returns a handler backed by an arbitrary afero.Fs,
// used by tests to avoid touching disk.
func NewWriteFileHandlerFS(fs afero.Fs) *WriteFileHandler {
	return &WriteFileHandler{fs: fs}
}

// WritePayload is the structured request a write-file step actually needs,
// passed to ExecuteWrite as a value rather than through Request.Command.
type WritePayload struct {
	Path    string
	Content string
	Append  bool
	Mode    uint32
}

func (h *WriteFileHandler) ExecuteWrite(ctx context.Context, dir string, payload WritePayload) (Result, error) {
	start := time.Now()
	path := payload.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	if err := h.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{Duration: time.Since(start)}, err
	}

	mode := payload.Mode
	if mode == 0 {
		mode = 0o644
	}

	var err error
	if payload.Append {
		var f afero.File
		f, err = h.fs.OpenFile(path, osAppendFlags, afero.FileMode(mode))
		if err == nil {
			_, err = f.WriteString(payload.Content)
			f.Close()
		}
	} else {
		err = afero.WriteFile(h.fs, path, []byte(payload.Content), afero.FileMode(mode))
	}
	if err != nil {
		return Result{ExitCode: 1, Duration: time.Since(start)}, err
	}
	return Result{ExitCode: 0, Duration: time.Since(start)}, nil
}

// Execute satisfies the Handler interface but is not the primary entry
// point for write-file: it treats req.Command as the destination path and
// writes empty content. Callers should use ExecuteWrite directly.
func (h *WriteFileHandler) Execute(ctx context.Context, req Request) (Result, error) {
	return h.ExecuteWrite(ctx, req.WorkingDir, WritePayload{Path: req.Command})
}
