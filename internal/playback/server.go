package playback

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shortstudio/studio-agent/internal/logging"
)

var ErrBadOutputName = errors.New("invalid output file name")

// servable lists the rendered artifacts the view layer may fetch.
var servable = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".mp3": "audio/mpeg",
	".edl": "text/plain; charset=utf-8",
	".srt": "application/x-subrip",
}

// OutputServer streams finished renders and timelines out of the current
// output directory, honouring Range requests for seeking.
type OutputServer struct {
	root   func() string
	logger *slog.Logger
}

// NewOutputServer serves files under the directory root returns at request
// time, so a settings change takes effect without a restart.
func NewOutputServer(root func() string, logger *slog.Logger) *OutputServer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &OutputServer{root: root, logger: logging.WithComponent(logger, "outputs")}
}

// Resolve maps a bare file name to a path inside the output directory.
func (s *OutputServer) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return "", ErrBadOutputName
	}
	if _, ok := servable[strings.ToLower(filepath.Ext(name))]; !ok {
		return "", ErrBadOutputName
	}
	root := s.root()
	if root == "" {
		return "", fmt.Errorf("%w: no output directory configured", ErrBadOutputName)
	}
	return filepath.Join(root, name), nil
}

// ServeFile writes the named output file, or a 206 slice of it.
func (s *OutputServer) ServeFile(w http.ResponseWriter, r *http.Request, name string) error {
	path, err := s.Resolve(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("open output: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	size := stat.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", servable[strings.ToLower(filepath.Ext(name))])

	span, ok, err := ParseRange(r.Header.Get("Range"), size)
	if errors.Is(err, ErrUnsatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	// A malformed header falls back to the whole file.
	if !ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, err = io.Copy(w, file)
		}
		return err
	}

	if _, err := file.Seek(span.Start, io.SeekStart); err != nil {
		return fmt.Errorf("seek output: %w", err)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(span.Length(), 10))
	w.Header().Set("Content-Range", span.Header(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		_, err = io.CopyN(w, file, span.Length())
	}
	return err
}

// Handler serves the file named by the last path element. Copy errors after
// the header is sent are only logged.
func (s *OutputServer) Handler(name func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := name(r)
		if err := s.ServeFile(w, r, n); err != nil {
			s.logger.Warn("output transfer failed", "file", logging.SanitizePath(n), "error", err)
		}
	}
}
