package linker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"

	"redx-pair/internal/metrics"
	"redx-pair/internal/session"
)

var (
	// ErrBusy is returned when MaxSessions attempts are already running.
	ErrBusy = errors.New("too many linking sessions in progress")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("linker is shutting down")
	// ErrTimeout is returned when the library does not produce a code in time.
	ErrTimeout = errors.New("timed out waiting for the messaging library")
	// ErrSetup wraps failures to open the device store or connect the client.
	ErrSetup = errors.New("session setup failed")
)

// Flow selects how the phone links the new device.
type Flow string

const (
	FlowPair Flow = "pair"
	FlowQR   Flow = "qr"
)

type Options struct {
	TempRoot string

	Prefix string
	Title  string
	Banner string

	SettleDelay     time.Duration
	ResponseTimeout time.Duration
	LinkTimeout     time.Duration
	MaxSessions     int

	PairClientType  whatsmeow.PairClientType
	PairDisplayName string
	QRSize          int
	// QRTerminal, when set, receives a terminal rendering of every QR payload.
	QRTerminal      io.Writer
}

// Linker runs one messaging-library client per linking request.
type Linker struct {
	opts   Options
	dialer Dialer
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	attempts map[string]*attempt
	closed   bool
}

func New(dialer Dialer, opts Options, log *zap.Logger) *Linker {
	if opts.Prefix == "" {
		opts.Prefix = session.DefaultPrefix
	}
	if opts.PairClientType == 0 {
		opts.PairClientType = whatsmeow.PairClientChrome
	}
	if opts.QRSize <= 0 {
		opts.QRSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Linker{
		opts:     opts,
		dialer:   dialer,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		attempts: make(map[string]*attempt),
	}
}

// Prepare makes sure the temp root exists and is writable.
func (l *Linker) Prepare() error {
	if err := os.MkdirAll(l.opts.TempRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create temp root: %w", err)
	}
	check, err := os.CreateTemp(l.opts.TempRoot, ".write-check-*")
	if err != nil {
		return fmt.Errorf("temp root is not writable: %w", err)
	}
	check.Close()
	return os.Remove(check.Name())
}

// Pair starts a session and returns the pairing code the phone must enter.
// The session keeps running after Pair returns until the device links or times out.
func (l *Linker) Pair(ctx context.Context, phone string) (string, error) {
	a, err := l.start(FlowPair, session.NormalizePhone(phone))
	if err != nil {
		return "", err
	}
	code, err := a.wait(ctx)
	if err != nil {
		return "", err
	}
	return string(code), nil
}

// QR starts a session and returns the first QR payload rendered as PNG.
func (l *Linker) QR(ctx context.Context) ([]byte, error) {
	a, err := l.start(FlowQR, "")
	if err != nil {
		return nil, err
	}
	return a.wait(ctx)
}

// Active returns the number of sessions currently holding a workspace.
func (l *Linker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}

// Close aborts every live session and waits for their workspaces to be removed.
func (l *Linker) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions to finish: %w", ctx.Err())
	}
}

func (l *Linker) start(flow Flow, phone string) (*attempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if l.opts.MaxSessions > 0 && len(l.attempts) >= l.opts.MaxSessions {
		return nil, ErrBusy
	}

	ws, err := session.Create(l.opts.TempRoot)
	if err != nil {
		return nil, err
	}
	a := newAttempt(l, flow, phone, ws)
	l.attempts[ws.ID()] = a
	l.wg.Add(1)

	metrics.SessionsStarted.WithLabelValues(string(flow)).Inc()
	metrics.SessionsActive.Inc()
	a.log.Info("Session started")

	go a.run()
	return a, nil
}

func (l *Linker) forget(a *attempt) {
	l.mu.Lock()
	delete(l.attempts, a.ws.ID())
	l.mu.Unlock()
}
