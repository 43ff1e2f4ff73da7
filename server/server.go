package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"aquarium_arm/hardware"
	"aquarium_arm/protocol"
	"aquarium_arm/trajectory"
)

// ArmOpener opens the arm. hardware.Open is the production opener.
type ArmOpener func(cfg hardware.Config, logger logging.Logger) (hardware.Arm, error)

// Server accepts client connections and executes their commands against the
// arm. Each Server owns its arm and trajectory state.
type Server struct {
	cfg    Config
	open   ArmOpener
	logger logging.Logger

	arm        *hardware.SafeArm
	state      *trajectory.State
	store      *trajectory.Store
	recorder   *trajectory.Recorder
	player     *trajectory.Player
	dispatcher *Dispatcher
	clients    *ClientRegistry

	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	running    atomic.Bool
	acceptDone chan struct{}

	connsMu  sync.Mutex
	conns    map[string]net.Conn
	handlers sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a server from a validated config.
func New(cfg Config, open ArmOpener, logger logging.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		open:    open,
		logger:  logger,
		clients: NewClientRegistry(),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[string]net.Conn),
	}
}

// Start initializes the arm, retrying on failure, then begins accepting
// connections. Start returns once the listener is bound; ctx only bounds
// hardware initialization.
func (s *Server) Start(ctx context.Context) (err error) {
	started := false
	s.startOnce.Do(func() { started = true })
	if !started {
		return errors.New("server already started")
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, s.Close())
		}
	}()

	arm, err := s.initHardware(ctx)
	if err != nil {
		return err
	}
	s.arm = hardware.NewSafeArm(arm)

	s.store, err = trajectory.NewStore(s.cfg.TrajectoriesDir, s.logger.Sublogger("store"))
	if err != nil {
		return err
	}
	if !s.cfg.DisableWatch {
		if err := s.store.Watch(s.ctx); err != nil {
			s.logger.Warnf("Trajectory directory will not be watched: %v", err)
		}
	}

	s.state = trajectory.NewState()
	s.recorder = trajectory.NewRecorder(s.arm, s.state, trajectory.RecorderConfig{
		SamplePeriod: s.cfg.SamplePeriod,
		Interval:     s.cfg.IntervalMode,
		JoinTimeout:  s.cfg.JoinTimeout,
	}, s.logger.Sublogger("recorder"))
	s.player = trajectory.NewPlayer(s.arm, s.state, s.store, s.cfg.JoinTimeout, s.logger.Sublogger("player"))
	s.dispatcher = NewDispatcher(DispatcherConfig{
		Arm:           s.arm,
		State:         s.state,
		Recorder:      s.recorder,
		Player:        s.player,
		Store:         s.store,
		HomeFile:      s.cfg.HomeFile,
		HomeSpeed:     s.cfg.Hardware.DefaultSpeed,
		ResponseLimit: s.cfg.BufferSize,
	}, s.logger.Sublogger("dispatcher"))

	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	s.listener = listener
	s.running.Store(true)
	s.acceptDone = make(chan struct{})

	utils.PanicCapturingGo(s.acceptLoop)

	s.logger.Infof("Arm server listening on %s", listener.Addr())
	return nil
}

func (s *Server) initHardware(ctx context.Context) (hardware.Arm, error) {
	for attempt := 1; ; attempt++ {
		s.logger.Infof("Connecting to arm (attempt %d/%d)", attempt, s.cfg.HardwareInitAttempts)
		arm, err := s.open(s.cfg.Hardware, s.logger.Sublogger("hardware"))
		if err == nil {
			if err = arm.PowerOn(ctx); err == nil {
				s.logger.Info("Arm initialized successfully")
				return arm, nil
			}
			err = multierr.Combine(err, arm.Close())
		}

		s.logger.Errorf("Failed to initialize arm (attempt %d): %v", attempt, err)
		if attempt >= s.cfg.HardwareInitAttempts {
			return nil, errors.Wrapf(err, "arm initialization failed after %d attempts", attempt)
		}
		if !utils.SelectContextOrWait(ctx, s.cfg.HardwareInitDelay) {
			return nil, ctx.Err()
		}
	}
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)

	for s.running.Load() {
		if tl, ok := s.listener.(*net.TCPListener); ok {
			if err := tl.SetDeadline(time.Now().Add(s.cfg.AcceptPoll)); err != nil {
				s.logger.Debugf("Failed to set accept deadline: %v", err)
			}
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("Listener closed, exiting accept loop")
				return
			}
			s.logger.Errorf("Error accepting connection: %v", err)
			utils.SelectContextOrWait(s.ctx, 100*time.Millisecond)
			continue
		}

		id := uuid.NewString()
		s.connsMu.Lock()
		s.conns[id] = conn
		s.connsMu.Unlock()

		s.handlers.Add(1)
		utils.PanicCapturingGo(func() {
			defer s.handlers.Done()
			s.handleConn(id, conn)
		})
	}
}

func (s *Server) handleConn(id string, conn net.Conn) {
	ip := remoteIP(conn)
	active := s.clients.Add(ip)
	s.logger.Infow("Client connected", "conn", id, "addr", ip, "active_from_addr", active, "active_total", s.clients.Total())

	defer func() {
		conn.Close()
		s.connsMu.Lock()
		delete(s.conns, id)
		s.connsMu.Unlock()
		if s.clients.Remove(ip) == 0 {
			s.logger.Infow("Client disconnected", "addr", ip, "active_total", s.clients.Total())
		}
	}()

	buf := make([]byte, s.cfg.BufferSize)
	for s.running.Load() {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && s.running.Load() {
				s.logger.Warnf("Error reading from client %s: %v", ip, err)
			}
			return
		}

		if n == len(buf) {
			s.logger.Warnf("Closing connection from %s: command filled the %d byte buffer", ip, n)
			tooLong := errors.Wrapf(protocol.ErrFrameTooLong, "commands must be shorter than %d bytes", n)
			if _, err := conn.Write([]byte(protocol.Error(tooLong))); err != nil {
				s.logger.Debugf("Error writing to client %s: %v", ip, err)
			}
			return
		}

		response := s.dispatcher.Handle(s.ctx, string(buf[:n]))
		if _, err := conn.Write([]byte(response)); err != nil {
			s.logger.Warnf("Error writing to client %s: %v", ip, err)
			return
		}
		if response == protocol.Quit {
			return
		}
	}
}

// Close stops accepting, cancels recording and loop playback, disconnects all
// clients, releases the servos and closes the arm. It is safe to call more
// than once.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Info("Shutting down arm server")
		s.running.Store(false)
		s.cancel()

		if s.listener != nil {
			if cErr := s.listener.Close(); cErr != nil && !errors.Is(cErr, net.ErrClosed) {
				err = multierr.Append(err, cErr)
			}
			<-s.acceptDone
		}

		if s.recorder != nil && s.recorder.Active() {
			if _, rErr := s.recorder.Stop(); rErr != nil {
				err = multierr.Append(err, rErr)
			}
		}
		if s.player != nil && s.player.Looping() {
			err = multierr.Append(err, s.player.StopLoop())
		}

		s.connsMu.Lock()
		for _, conn := range s.conns {
			conn.Close()
		}
		s.connsMu.Unlock()
		if !waitTimeout(&s.handlers, s.cfg.JoinTimeout) {
			s.logger.Warnf("Client handlers did not exit within %v", s.cfg.JoinTimeout)
		}

		if s.arm != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if rErr := s.arm.ReleaseAll(ctx); rErr != nil {
				s.logger.Warnf("Failed to release servos on shutdown: %v", rErr)
			}
			cancel()
			err = multierr.Append(err, s.arm.Close())
		}
		s.logger.Info("Server shutdown complete")
	})
	return err
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Running() bool {
	return s.running.Load()
}

// Clients returns the open connection count per remote IP.
func (s *Server) Clients() map[string]int {
	return s.clients.Snapshot()
}

// State exposes the trajectory state, mainly for status reporting.
func (s *Server) State() *trajectory.State {
	return s.state
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
