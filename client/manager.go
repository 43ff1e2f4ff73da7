package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"aquarium_arm/protocol"
)

// CommandSender is anything that can exchange one command for one response.
type CommandSender interface {
	SendCommand(command, argument string) string
}

// Manager owns the connection to the arm server. It reconnects on demand with
// exponential spacing between attempts and pings the server while idle. All
// failures are reported through the returned response strings.
type Manager struct {
	cfg    Config
	clock  clock.Clock
	logger logging.Logger
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)

	mu          sync.Mutex
	conn        net.Conn
	connected   bool
	lastAttempt time.Time
	retryDelay  time.Duration
	backoff     *backoff.ExponentialBackOff

	sessionStop chan struct{}
	keepAlive   sync.WaitGroup
	keepAlives  atomic.Int32
}

// New creates a disconnected manager. The first command connects.
func New(cfg *Config, clk clock.Clock, logger logging.Logger) *Manager {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialRetryDelay
	b.MaxInterval = cfg.MaxRetryDelay
	b.Multiplier = cfg.BackoffFactor
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	return &Manager{
		cfg:        *cfg,
		clock:      clk,
		logger:     logger,
		dial:       dialer.DialContext,
		backoff:    b,
		retryDelay: b.NextBackOff(),
	}
}

// Connect opens a new connection, waiting first if the previous attempt was
// less than the current retry delay ago. It reports whether the server
// answered the ping handshake.
func (m *Manager) Connect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked()
}

func (m *Manager) connectLocked() bool {
	if !m.lastAttempt.IsZero() {
		if wait := m.retryDelay - m.clock.Since(m.lastAttempt); wait > 0 {
			m.logger.Debugf("Waiting %v before retry", wait)
			m.clock.Sleep(wait)
		}
	}
	m.lastAttempt = m.clock.Now()
	m.dropLocked()

	addr := m.cfg.Addr()
	m.logger.Debugf("Attempting to connect to arm server at %s", addr)
	conn, err := m.dial(context.Background(), "tcp", addr)
	if err == nil {
		if err = m.handshake(conn); err != nil {
			conn.Close()
		}
	}
	if err != nil {
		m.retryDelay = m.backoff.NextBackOff()
		m.logger.Errorf("Connection to %s failed: %v", addr, err)
		m.logger.Debugf("Next retry in %v", m.retryDelay)
		return false
	}

	m.conn = conn
	m.connected = true
	m.backoff.Reset()
	m.retryDelay = m.backoff.NextBackOff()
	m.startKeepAliveLocked()
	m.logger.Infof("Connected to arm server at %s", addr)
	return true
}

func (m *Manager) handshake(conn net.Conn) error {
	for attempt := 1; attempt <= m.cfg.HandshakeAttempts; attempt++ {
		m.logger.Debugf("Ping attempt %d", attempt)
		resp, err := m.exchange(conn, protocol.OpPing)
		if err == nil && resp == protocol.Pong {
			return nil
		}
		if err != nil {
			m.logger.Debugf("Ping attempt %d failed: %v", attempt, err)
		} else {
			m.logger.Debugf("Unexpected ping response: %q", resp)
		}
		if attempt < m.cfg.HandshakeAttempts {
			m.clock.Sleep(m.cfg.HandshakeInterval)
		}
	}
	return errors.New("failed ping verification")
}

// SendCommand sends command followed by argument and returns the server's
// response. When the server cannot be reached it returns
// protocol.NotConnected; a timeout yields protocol.CommandTimedOut and any
// other I/O failure an "Error: ..." string.
func (m *Manager) SendCommand(command, argument string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected && !m.connectLocked() {
		return protocol.NotConnected
	}

	frame := protocol.Frame(command, argument)
	if !protocol.Fits(frame, m.cfg.BufferSize) {
		return protocol.Error(errors.Wrapf(protocol.ErrFrameTooLong, "command of %d bytes", len(frame)))
	}
	resp, err := m.exchange(m.conn, frame)
	if err != nil {
		m.dropLocked()
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			m.logger.Errorf("Command %q timed out", frame)
			return protocol.CommandTimedOut
		}
		m.logger.Errorf("Error sending command %q: %v", frame, err)
		return protocol.Error(err)
	}
	m.logger.Debugf("Sent command %q, received: %q", frame, resp)
	return resp
}

// Close asks the server to end the session, closes the socket and waits for
// the keep-alive goroutine. It is safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.connected {
		if _, err := m.exchange(m.conn, protocol.OpQuit); err != nil {
			m.logger.Debugf("Error sending quit: %v", err)
		}
		m.logger.Info("Disconnected from arm server")
	}
	m.dropLocked()
	m.mu.Unlock()

	m.keepAlive.Wait()
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// RetryDelay is the minimum spacing before the next connection attempt.
func (m *Manager) RetryDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryDelay
}

// KeepAliveActive reports whether a keep-alive goroutine is running.
func (m *Manager) KeepAliveActive() bool {
	return m.keepAlives.Load() > 0
}

func (m *Manager) exchange(conn net.Conn, frame string) (string, error) {
	if conn == nil {
		return "", errors.New("no connection")
	}
	if err := conn.SetDeadline(time.Now().Add(m.cfg.CommandTimeout)); err != nil {
		return "", err
	}
	if _, err := conn.Write([]byte(frame)); err != nil {
		return "", err
	}
	buf := make([]byte, m.cfg.BufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	if n == len(buf) {
		return "", errors.Wrapf(protocol.ErrFrameTooLong, "response filled the %d byte buffer", n)
	}
	return string(buf[:n]), nil
}

// dropLocked closes the socket and signals the session's keep-alive to exit.
// It does not wait, since the keep-alive may itself be blocked on m.mu.
func (m *Manager) dropLocked() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connected = false
	if m.sessionStop != nil {
		close(m.sessionStop)
		m.sessionStop = nil
	}
}

func (m *Manager) startKeepAliveLocked() {
	stop := make(chan struct{})
	m.sessionStop = stop
	m.keepAlive.Add(1)
	m.keepAlives.Add(1)
	utils.PanicCapturingGo(func() {
		defer m.keepAlive.Done()
		defer m.keepAlives.Add(-1)
		m.keepAliveLoop(stop)
	})
}

func (m *Manager) keepAliveLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-m.clock.After(m.cfg.KeepAliveInterval):
		}

		m.mu.Lock()
		select {
		case <-stop:
			m.mu.Unlock()
			return
		default:
		}
		resp, err := m.exchange(m.conn, protocol.OpPing)
		if err != nil || resp != protocol.Pong {
			m.logger.Warnf("Keep-alive failed (response %q, error %v), marking connection down", resp, err)
			m.dropLocked()
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
	}
}

// GetTrajectories asks the server for its stored trajectories.
func GetTrajectories(s CommandSender) ([]protocol.TrajectoryInfo, error) {
	return protocol.DecodeTrajectoryList(s.SendCommand(protocol.OpList, ""))
}
