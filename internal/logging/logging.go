package logging

import (
	"io"
	"log"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	File       string // empty disables the file
	MaxSizeMB  int
	MaxBackups int
	Console    io.Writer // nil disables console output
	Debug      bool
}

// Sink fans log output to a rotating file and a swappable console writer.
// The console starts as stdout and is replaced by the dashboard's log pane when
// the terminal UI takes over the screen.
type Sink struct {
	mu      sync.Mutex
	file    *lumberjack.Logger
	console io.Writer
	logger  *log.Logger
}

func New(opts Options) *Sink {
	s := &Sink{console: opts.Console}
	if opts.File != "" {
		s.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
	}

	flags := log.LstdFlags | log.Lmicroseconds
	if opts.Debug {
		flags |= log.Lshortfile
	}
	s.logger = log.New(s, "", flags)
	return s
}

// Logger returns the shared logger handed to every component
func (s *Sink) Logger() *log.Logger {
	return s.logger
}

// SetConsole replaces the console writer; nil silences it
func (s *Sink) SetConsole(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.console = w
}

func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// a failing file must not take the console down with it
	var firstErr error
	if s.file != nil {
		if _, err := s.file.Write(p); err != nil {
			firstErr = err
		}
	}
	if s.console != nil {
		if _, err := s.console.Write(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return 0, firstErr
	}
	return len(p), nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
