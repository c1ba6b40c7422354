package repl

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// DefaultHistorySize bounds the number of remembered lines.
const DefaultHistorySize = 1000

// DefaultHistoryPath returns ~/.workingdb/history.
func DefaultHistoryPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".workingdb", "history")
}

// History keeps the most recent REPL lines. An empty file path keeps
// history in memory only.
type History struct {
	entries []string
	maxSize int
	file    string
}

// NewHistory creates a history backed by file.
func NewHistory(file string, maxSize int) *History {
	if maxSize <= 0 {
		maxSize = DefaultHistorySize
	}
	return &History{maxSize: maxSize, file: file}
}

// Add appends a line, skipping repeats of the previous line. Lines that
// start with AUTH are never recorded.
func (h *History) Add(line string) {
	if line == "" || isSensitive(line) {
		return
	}
	if n := len(h.entries); n > 0 && h.entries[n-1] == line {
		return
	}
	h.entries = append(h.entries, line)
	if len(h.entries) > h.maxSize {
		h.entries = h.entries[len(h.entries)-h.maxSize:]
	}
}

// Get returns the entry at index, 0 being the most recent.
func (h *History) Get(index int) string {
	if index < 0 || index >= len(h.entries) {
		return ""
	}
	return h.entries[len(h.entries)-1-index]
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Load reads the history file. A missing file is not an error.
func (h *History) Load() error {
	if h.file == "" {
		return nil
	}
	f, err := os.Open(h.file)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		h.Add(scanner.Text())
	}
	return scanner.Err()
}

// Save writes the history file with owner-only permissions.
func (h *History) Save() error {
	if h.file == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(h.file), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(h.file, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, entry := range h.entries {
		w.WriteString(entry)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func isSensitive(line string) bool {
	name, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	return strings.EqualFold(name, "AUTH")
}
