package linker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"redx-pair/internal/metrics"
	"redx-pair/internal/session"
)

var (
	errLoggedOut    = errors.New("device was logged out")
	errSessionEnded = errors.New("session ended before a code was issued")
)

type result struct {
	payload []byte
	err     error
}

// attempt is a single linking session: one workspace, one client, one HTTP result.
type attempt struct {
	l       *Linker
	flow    Flow
	phone   string
	ws      *session.Workspace
	conn    *Conn
	log     *zap.Logger
	started time.Time

	result      chan result
	respondOnce sync.Once

	opened   chan struct{}
	openOnce sync.Once

	stopped  chan error
	stopOnce sync.Once
}

func newAttempt(l *Linker, flow Flow, phone string, ws *session.Workspace) *attempt {
	return &attempt{
		l:       l,
		flow:    flow,
		phone:   phone,
		ws:      ws,
		log:     l.log.With(zap.String("session", ws.ID()), zap.String("flow", string(flow))),
		started: time.Now(),
		result:  make(chan result, 1),
		opened:  make(chan struct{}),
		stopped: make(chan error, 1),
	}
}

// respond hands the first result to the waiting request. Later calls are dropped.
func (a *attempt) respond(payload []byte, err error) {
	a.respondOnce.Do(func() {
		a.result <- result{payload: payload, err: err}
	})
}

// stop asks the run loop to end the session with err.
func (a *attempt) stop(err error) {
	a.stopOnce.Do(func() {
		a.stopped <- err
	})
}

func (a *attempt) wait(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(a.l.opts.ResponseTimeout)
	defer timer.Stop()

	select {
	case r := <-a.result:
		return r.payload, r.err
	case <-ctx.Done():
		a.stop(ctx.Err())
		return nil, ctx.Err()
	case <-timer.C:
		a.stop(ErrTimeout)
		return nil, ErrTimeout
	}
}

func (a *attempt) open() (<-chan whatsmeow.QRChannelItem, error) {
	conn, err := a.l.dialer.Dial(a.l.ctx, a.ws)
	if err != nil {
		return nil, err
	}
	a.conn = conn
	conn.Client.AddEventHandler(a.handleEvent)

	qrCh, err := conn.Client.GetQRChannel(a.l.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := conn.Client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return qrCh, nil
}

func (a *attempt) run() {
	outcome := metrics.OutcomeFailed
	defer func() { a.cleanup(outcome) }()

	qrCh, err := a.open()
	if err != nil {
		a.log.Error("Failed to open session", zap.Error(err))
		a.respond(nil, fmt.Errorf("%w: %w", ErrSetup, err))
		return
	}

	linkTimer := time.NewTimer(a.l.opts.LinkTimeout)
	defer linkTimer.Stop()

	for {
		select {
		case item, ok := <-qrCh:
			if !ok {
				qrCh = nil
				continue
			}
			switch item.Event {
			case whatsmeow.QRChannelEventCode:
				a.offer(item.Code)
			case whatsmeow.QRChannelSuccess.Event:
				a.log.Info("Device linked, waiting for connection")
			case whatsmeow.QRChannelTimeout.Event:
				a.log.Info("QR codes expired without a link")
				outcome = metrics.OutcomeTimeout
				a.respond(nil, ErrTimeout)
				return
			default:
				err := item.Error
				if err == nil {
					err = fmt.Errorf("unexpected QR channel event %q", item.Event)
				}
				a.log.Error("Linking failed", zap.Error(err))
				a.respond(nil, err)
				return
			}
		case <-a.opened:
			if err := a.complete(); err != nil {
				outcome = classify(err)
				a.log.Error("Failed to deliver credentials", zap.Error(err))
				return
			}
			outcome = metrics.OutcomeLinked
			return
		case err := <-a.stopped:
			outcome = classify(err)
			a.log.Info("Session stopped", zap.Error(err))
			a.respond(nil, err)
			return
		case <-linkTimer.C:
			a.log.Info("Link timeout reached", zap.Duration("timeout", a.l.opts.LinkTimeout))
			outcome = metrics.OutcomeTimeout
			a.respond(nil, ErrTimeout)
			return
		case <-a.l.ctx.Done():
			outcome = metrics.OutcomeAborted
			a.respond(nil, ErrClosed)
			return
		}
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, errLoggedOut):
		return metrics.OutcomeLoggedOut
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
		return metrics.OutcomeAborted
	default:
		return metrics.OutcomeFailed
	}
}

// offer turns the first QR payload into the HTTP result. Refreshed payloads are ignored.
func (a *attempt) offer(code string) {
	if a.flow == FlowQR && a.l.opts.QRTerminal != nil {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, a.l.opts.QRTerminal)
	}
	a.respondOnce.Do(func() {
		payload, err := a.render(code)
		a.result <- result{payload: payload, err: err}
		if err != nil {
			a.stop(err)
			return
		}
		a.log.Info("Code issued")
	})
}

func (a *attempt) render(code string) ([]byte, error) {
	switch a.flow {
	case FlowPair:
		ctx, cancel := context.WithTimeout(a.l.ctx, a.l.opts.ResponseTimeout)
		defer cancel()
		pairCode, err := a.conn.Client.PairPhone(ctx, a.phone, true, a.l.opts.PairClientType, a.l.opts.PairDisplayName)
		if err != nil {
			return nil, fmt.Errorf("failed to get pairing code: %w", err)
		}
		return []byte(pairCode), nil
	case FlowQR:
		png, err := qrcode.Encode(code, qrcode.Medium, a.l.opts.QRSize)
		if err != nil {
			return nil, fmt.Errorf("failed to render QR code: %w", err)
		}
		return png, nil
	default:
		return nil, fmt.Errorf("unknown flow %q", a.flow)
	}
}

// complete runs once the connection is open: settle, deliver, done.
func (a *attempt) complete() error {
	if d := a.l.opts.SettleDelay; d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-a.l.ctx.Done():
			return a.l.ctx.Err()
		}
	}
	if err := a.deliverCreds(a.l.ctx); err != nil {
		return err
	}
	metrics.LinkDuration.WithLabelValues(string(a.flow)).Observe(time.Since(a.started).Seconds())
	return nil
}

func (a *attempt) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		a.log.Info("Pair success", zap.String("jid", v.ID.String()), zap.String("platform", v.Platform))
		a.saveCreds()
	case *events.Connected:
		a.saveCreds()
		a.openOnce.Do(func() { close(a.opened) })
	case *events.Disconnected:
		a.log.Info("Connection closed")
	case *events.LoggedOut:
		a.log.Warn("Device logged out", zap.String("reason", v.Reason.String()))
		a.stop(errLoggedOut)
	case *events.PairError:
		a.stop(fmt.Errorf("pairing failed: %w", v.Error))
	case *events.ConnectFailure:
		a.stop(fmt.Errorf("connect failure: %s %s", v.Reason, v.Message))
	case *events.ClientOutdated:
		a.stop(errors.New("client outdated"))
	case *events.TemporaryBan:
		a.stop(fmt.Errorf("temporary ban: %s", v))
	}
}

func (a *attempt) saveCreds() {
	if err := a.ws.SaveCreds(a.conn.Device); err != nil {
		a.log.Warn("Failed to save credentials", zap.Error(err))
	}
}

func (a *attempt) cleanup(outcome string) {
	a.respond(nil, errSessionEnded)
	if a.conn != nil {
		a.conn.Client.Disconnect()
		if err := a.conn.Close(); err != nil {
			a.log.Warn("Failed to close session database", zap.Error(err))
		}
	}
	if err := a.ws.Remove(); err != nil {
		a.log.Error("Failed to remove session dir", zap.String("dir", a.ws.Dir()), zap.Error(err))
	}
	a.l.forget(a)

	metrics.SessionsActive.Dec()
	metrics.SessionsFinished.WithLabelValues(string(a.flow), outcome).Inc()
	a.log.Info("Session finished", zap.String("outcome", outcome), zap.Duration("elapsed", time.Since(a.started)))
	a.l.wg.Done()
}
