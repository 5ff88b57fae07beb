package logging

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap/zapcore"
)

// Entry is one line of a supervisor log.
type Entry struct {
	Raw string
	// Time is zero for lines that do not start with a timestamp, such as
	// panics written straight to a detached supervisor's stderr.
	Time     time.Time
	Level    zapcore.Level
	HasLevel bool
}

// ParseEntry splits the timestamp and level off a line written by New.
func ParseEntry(line string) Entry {
	e := Entry{Raw: line}
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return e
	}
	t, err := time.Parse(TimeLayout, fields[0])
	if err != nil {
		return e
	}
	e.Time = t
	if lvl, err := zapcore.ParseLevel(fields[1]); err == nil {
		e.Level = lvl
		e.HasLevel = true
	}
	return e
}

// Filter selects log entries. The zero Filter keeps everything.
type Filter struct {
	// Level keeps only entries logged at exactly this level.
	Level *zapcore.Level
	// Since drops timestamped entries older than this. Lines without a
	// timestamp are kept.
	Since time.Time
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Entry) bool {
	if f.Level != nil && (!e.HasLevel || e.Level != *f.Level) {
		return false
	}
	if !f.Since.IsZero() && !e.Time.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	return true
}

// ReadEntries returns the non-blank lines of r that match f.
func ReadEntries(r io.Reader, f Filter) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if e := ParseEntry(line); f.Match(e) {
			out = append(out, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return out, nil
}

// Follow calls fn for every complete line appended to path after offset,
// until ctx ends. A truncated or recreated file is read from the start.
func Follow(ctx context.Context, path string, offset int64, fn func(line string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	var partial []byte
	readNew := func() error {
		fh, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		defer fh.Close()
		info, err := fh.Stat()
		if err != nil {
			return err
		}
		if info.Size() < offset {
			offset, partial = 0, nil
		}
		if _, err := fh.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		data, err := io.ReadAll(fh)
		if err != nil {
			return err
		}
		offset += int64(len(data))
		partial = append(partial, data...)
		for {
			i := bytes.IndexByte(partial, '\n')
			if i < 0 {
				break
			}
			fn(string(partial[:i]))
			partial = partial[i+1:]
		}
		return nil
	}

	// Catch anything written between the caller's read and the watch.
	if err := readNew(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	name := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				offset, partial = 0, nil
			}
			if err := readNew(); err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
}
