package logx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultLogFile = "./tickd.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

// FileConfig appends JSON lines to Path.
type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the log outputs and swaps them on Apply.
// Loggers returned by Logger follow the swap.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file *os.File

	root   atomic.Pointer[zerolog.Logger]
	stdout io.Writer
}

// New creates the service with cfg applied. If the log file cannot be opened
// the service falls back to the console and the error is reported on stderr.
func New(cfg Config) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{stdout: os.Stdout}
	if err := s.Apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "logx: %v\n", err)
	}
	return s, Logger{svc: s}
}

func (s *Service) current() *zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return zl
	}
	return &nopLogger
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Config returns the config last passed to Apply.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Close closes the log file, if any. Later records go to the console only
// if it was enabled.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	zl := zerolog.Nop()
	if s.cfg.Console {
		zl = s.newRoot(s.cfg, []io.Writer{newConsoleWriter(s.stdout)})
	}
	s.root.Store(&zl)
	return err
}

// Apply swaps outputs and level. It is safe to call concurrently with logging.
// When the file cannot be opened the console is used and the error returned.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		writers []io.Writer
		errs    []error
		file    *os.File
	)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(s.stdout))
	}
	if cfg.File.Enabled {
		f, err := openLogFile(cfg.File.Path)
		if err != nil {
			errs = append(errs, err)
		} else {
			file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(s.stdout))
	}

	zl := s.newRoot(cfg, writers)
	s.root.Store(&zl)

	if s.file != nil {
		errs = append(errs, s.file.Close())
	}
	s.file = file
	s.cfg = cfg
	return errors.Join(errs...)
}

func (s *Service) newRoot(cfg Config, writers []io.Writer) zerolog.Logger {
	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}
	return zerolog.New(w).Level(ParseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log file %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log file %q: %w", path, err)
	}
	return f, nil
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}
