package fetch

import (
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/rs/zerolog"
)

// SessionOptions parameterise the shared headless browser.
type SessionOptions struct {
	BinPath   string
	Headless  bool
	NoSandbox bool
}

// Session owns the process-wide browser used by all browser fetchers. The
// browser launches lazily on first use and is torn down by Stop on every app
// exit path.
type Session struct {
	opts   SessionOptions
	logger zerolog.Logger

	mu      sync.Mutex
	launch  *launcher.Launcher
	browser *rod.Browser
}

// NewSession prepares a lazy browser session; nothing starts until a fetcher
// asks for the browser.
func NewSession(opts SessionOptions, logger zerolog.Logger) *Session {
	return &Session{
		opts:   opts,
		logger: logger.With().Str("component", "browser_session").Logger(),
	}
}

// Browser returns the connected browser, launching it on first call.
func (s *Session) Browser() (*rod.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		return s.browser, nil
	}

	bin := s.opts.BinPath
	if bin == "" {
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, fmt.Errorf("download browser: %w", err)
		}
		bin = path
	}

	// Container friendly flags: no /dev/shm, no GPU.
	l := launcher.New().
		Headless(s.opts.Headless).
		Bin(bin).
		NoSandbox(s.opts.NoSandbox).
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true")

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	s.logger.Info().Str("bin", bin).Bool("headless", s.opts.Headless).Msg("browser started")
	s.launch = l
	s.browser = browser
	return browser, nil
}

// Stop closes the browser if it was ever started. Safe to call repeatedly.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return
	}
	if err := s.browser.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("browser close failed")
	}
	s.launch.Cleanup()
	s.browser = nil
	s.launch = nil
	s.logger.Info().Msg("browser stopped")
}
