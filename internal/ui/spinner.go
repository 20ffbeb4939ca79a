package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// LineSpinner animates a single status line while a blocking step runs,
// before the full-screen call view takes over the terminal.
type LineSpinner struct {
	out      io.Writer
	spinner  spinner.Spinner
	interval time.Duration

	message string

	done      chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewConnectionSpinner uses the Globe frames for network steps.
func NewConnectionSpinner(message string) *LineSpinner {
	return newLineSpinner(os.Stdout, message, spinner.Globe, 180*time.Millisecond)
}

func newLineSpinner(out io.Writer, message string, s spinner.Spinner, interval time.Duration) *LineSpinner {
	return &LineSpinner{
		out:      out,
		spinner:  s,
		interval: interval,
		message:  message,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (s *LineSpinner) Start() {
	s.startOnce.Do(func() { go s.run() })
}

func (s *LineSpinner) run() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	frames := s.spinner.Frames
	for i := 0; ; i++ {
		fmt.Fprintf(s.out, "\r%s %s", SpinnerStyle.Render(frames[i%len(frames)]), s.message)

		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
	}
}

// Stop halts the animation and clears the line. It waits for the last frame
// so nothing is printed after it returns.
func (s *LineSpinner) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.startOnce.Do(func() { close(s.stopped) })
		<-s.stopped
		fmt.Fprint(s.out, "\r\033[K")
	})
}

func (s *LineSpinner) Success(message string) {
	s.Stop()
	fmt.Fprintf(s.out, "%s %s\n", SuccessStyle.Render(IconSuccess), message)
}

// RunConnectionSpinner starts a connection spinner and returns a stop function
func RunConnectionSpinner(message string) func() {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp.Stop
}
