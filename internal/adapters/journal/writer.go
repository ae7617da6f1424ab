// Package journal appends activity, generation and report records to one JSON
// array file per kind and calendar day.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/okian/casve/internal/domain/model"
	"github.com/okian/casve/pkg/errs"
	"github.com/okian/casve/pkg/logger"
)

var filePrefixes = map[model.Kind]string{
	model.KindActivity:   "user_activity_",
	model.KindGeneration: "llm_generations_",
	model.KindReport:     "report_data_",
}

// tailChunk bounds how much of a file is read to find the closing bracket.
const tailChunk = 4096

// DailyWriter appends JSON values to <dir>/<prefix>YYYYMMDD.json arrays.
// Appends rewrite only the closing bracket, never the whole array.
type DailyWriter struct {
	dir string
	log logger.Logger
	mu  sync.Mutex
}

// NewDailyWriter returns a writer rooted at dir, creating it if needed.
func NewDailyWriter(dir string, log logger.Logger) (*DailyWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap("journal.NewDailyWriter", ErrLogWriteFailure, err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &DailyWriter{dir: dir, log: log}, nil
}

// Path returns the file a record of kind at ts goes to.
func (w *DailyWriter) Path(kind model.Kind, ts time.Time) (string, error) {
	prefix, ok := filePrefixes[kind]
	if !ok {
		return "", fmt.Errorf("unknown journal kind %q", kind)
	}
	return filepath.Join(w.dir, prefix+ts.Format("20060102")+".json"), nil
}

// Handle implements the queue worker handler.
func (w *DailyWriter) Handle(ctx context.Context, e model.Entry) error { //nolint:gocritic // hugeParam
	return w.Append(ctx, e.Kind, e.Timestamp, e.Payload)
}

// Append adds payload to the array file of kind for the day of ts.
func (w *DailyWriter) Append(ctx context.Context, kind model.Kind, ts time.Time, payload any) error {
	const op = "journal.Append"
	path, err := w.Path(kind, ts)
	if err != nil {
		return errs.Wrap(op, ErrLogWriteFailure, err)
	}
	data, err := json.MarshalIndent(payload, "  ", "  ")
	if err != nil {
		return errs.Wrap(op, ErrLogWriteFailure, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.appendFile(ctx, path, data); err != nil {
		return errs.Wrap(op, ErrLogWriteFailure, err)
	}
	return nil
}

func (w *DailyWriter) appendFile(ctx context.Context, path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}

	closeBracket, empty, err := locateTail(f)
	if errors.Is(err, errCorrupt) {
		_ = f.Close()
		aside, mvErr := moveAside(path)
		if mvErr != nil {
			return fmt.Errorf("move corrupt file: %w", mvErr)
		}
		w.log.Warn(ctx, "corrupt journal file moved aside",
			logger.String("path", path),
			logger.String("moved_to", aside))
		if f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644); err != nil {
			return err
		}
		closeBracket, empty, err = -1, true, nil
	}
	if err != nil {
		_ = f.Close()
		return err
	}

	var buf []byte
	var at int64
	switch {
	case closeBracket < 0:
		buf = append(append([]byte("[\n  "), data...), "\n]\n"...)
		at = 0
	case empty:
		buf = append(append([]byte("\n  "), data...), "\n]\n"...)
		at = closeBracket
	default:
		buf = append(append([]byte(",\n  "), data...), "\n]\n"...)
		at = closeBracket
	}
	if _, err := f.WriteAt(buf, at); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Truncate(at + int64(len(buf))); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var errCorrupt = errors.New("corrupt journal file")

// locateTail returns the offset of the closing bracket and whether the array
// is empty. An empty file yields offset -1.
func locateTail(f *os.File) (int64, bool, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, false, err
	}
	size := info.Size()

	first, _, err := scanForward(f, size)
	if err != nil {
		return 0, false, err
	}
	if first < 0 {
		return -1, true, nil
	}
	if first != '[' {
		return 0, false, errCorrupt
	}

	last, pos, err := scanBackward(f, size)
	if err != nil {
		return 0, false, err
	}
	if last != ']' {
		return 0, false, errCorrupt
	}
	prev, _, err := scanBackward(f, pos)
	if err != nil {
		return 0, false, err
	}
	return pos, prev == '[', nil
}

func isSpace(c byte) bool { return c == ' ' || c == '\n' || c == '\r' || c == '\t' }

// scanForward returns the first non-space byte in f[0:end], or -1.
func scanForward(f *os.File, end int64) (int, int64, error) {
	buf := make([]byte, tailChunk)
	for off := int64(0); off < end; off += int64(len(buf)) {
		n, err := f.ReadAt(buf[:min(int64(len(buf)), end-off)], off)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, 0, err
		}
		for i := 0; i < n; i++ {
			if !isSpace(buf[i]) {
				return int(buf[i]), off + int64(i), nil
			}
		}
	}
	return -1, -1, nil
}

// scanBackward returns the last non-space byte in f[0:end] and its offset, or -1.
func scanBackward(f *os.File, end int64) (int, int64, error) {
	buf := make([]byte, tailChunk)
	for end > 0 {
		start := max(end-int64(len(buf)), 0)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, 0, err
		}
		for i := n - 1; i >= 0; i-- {
			if !isSpace(buf[i]) {
				return int(buf[i]), start + int64(i), nil
			}
		}
		end = start
	}
	return -1, -1, nil
}

func moveAside(path string) (string, error) {
	aside := path + ".corrupt"
	if _, err := os.Stat(aside); err == nil {
		aside = fmt.Sprintf("%s.%d.corrupt", path, time.Now().UnixNano())
	}
	return aside, os.Rename(path, aside)
}
