package transcript

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lexiqai/scribe/internal/apperrors"
)

// FileSuffix ends every transcript file name
const FileSuffix = "-transcription.log"

const timestampLayout = "2006-01-02_15-04-05"

// IOError reports a failure to persist or read a transcript
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("transcript %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ErrorKind implements apperrors.Kinder
func (e *IOError) ErrorKind() apperrors.Kind { return apperrors.KindIO }

// Writer creates transcript files in one directory
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter creates a writer for dir. The directory is created on first write.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// Dir returns the transcript directory
func (w *Writer) Dir() string {
	return w.dir
}

// FileName returns the transcript file name for a recording stopped at ts
func FileName(ts time.Time, room string) string {
	return ts.Format(timestampLayout) + "-" + sanitize(room) + FileSuffix
}

// Write creates a new transcript file for room and returns its path. Existing
// files are never overwritten; a collision gets a numeric suffix.
func (w *Writer) Write(room string, t *Transcript) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", &IOError{Path: w.dir, Err: err}
	}

	base := strings.TrimSuffix(FileName(w.now(), room), ".log")
	var (
		f    *os.File
		path string
		err  error
	)
	for n := 0; n < 100; n++ {
		path = filepath.Join(w.dir, base+".log")
		if n > 0 {
			path = filepath.Join(w.dir, fmt.Sprintf("%s-%d.log", base, n))
		}
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil || !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	if err != nil {
		return "", &IOError{Path: path, Err: err}
	}

	bw := bufio.NewWriter(f)
	for _, line := range t.Lines {
		if _, err := bw.WriteString(line.String() + "\n"); err != nil {
			f.Close()
			return "", &IOError{Path: path, Err: err}
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return "", &IOError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &IOError{Path: path, Err: err}
	}

	return path, nil
}

// FileInfo describes a stored transcript
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified_at"`
}

// List returns the transcripts in dir, newest first
func List(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &IOError{Path: dir, Err: err}
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:    e.Name(),
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name > files[j].Name })
	return files, nil
}

// NotFoundError is returned by Resolve and lists what is available
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("transcript %q not found; no transcripts available", e.Name)
	}
	return fmt.Sprintf("transcript %q not found; available: %s", e.Name, strings.Join(e.Available, ", "))
}

// ErrorKind implements apperrors.Kinder
func (e *NotFoundError) ErrorKind() apperrors.Kind { return apperrors.KindIO }

// Resolve finds a transcript in dir by name, with or without the .log extension.
// The error lists up to 10 available transcripts.
func Resolve(dir, name string) (string, error) {
	name = filepath.Base(name)
	if !strings.HasSuffix(name, ".log") {
		name += ".log"
	}

	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	files, err := List(dir)
	if err != nil {
		return "", err
	}
	nf := &NotFoundError{Name: name}
	for i, f := range files {
		if i == 10 {
			break
		}
		nf.Available = append(nf.Available, f.Name)
	}
	return "", nf
}

func sanitize(room string) string {
	room = strings.TrimSpace(room)
	if room == "" {
		return "room"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, room)
}
