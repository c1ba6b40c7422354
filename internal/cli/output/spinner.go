package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner shows an animation while a long operation runs.
type Spinner struct {
	w        io.Writer
	message  string
	interval time.Duration

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// NewSpinner creates a stopped spinner.
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		w:        w,
		message:  message,
		interval: 100 * time.Millisecond,
		done:     make(chan struct{}),
	}
}

// Start starts the animation.
func (s *Spinner) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(s.w, "\r%s %s", spinnerFrames[i%len(spinnerFrames)], s.message)
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop stops the animation and clears the line. It is safe to call more
// than once.
func (s *Spinner) Stop() {
	s.finish("\r\033[K")
}

// Success stops the spinner with a success message.
func (s *Spinner) Success(message string) {
	s.finish(fmt.Sprintf("\r\033[K✓ %s\n", message))
}

// Fail stops the spinner with a failure message.
func (s *Spinner) Fail(message string) {
	s.finish(fmt.Sprintf("\r\033[K✗ %s\n", message))
}

func (s *Spinner) finish(last string) {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		io.WriteString(s.w, last)
	})
}
