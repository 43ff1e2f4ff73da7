package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"aquarium_arm/client"
	"aquarium_arm/hardware"
	"aquarium_arm/protocol"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		TrajectoriesDir:   filepath.Join(dir, "trajectories"),
		HomeFile:          filepath.Join(dir, "home.json"),
		HardwareInitDelay: 10 * time.Millisecond,
		AcceptPoll:        50 * time.Millisecond,
		SamplePeriod:      5 * time.Millisecond,
		JoinTimeout:       2 * time.Second,
		Hardware:          hardware.Config{Simulate: true},
	}
	require.NoError(t, cfg.Validate("server"))
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

func simOpener(sim *hardware.SimArm) ArmOpener {
	return func(hardware.Config, logging.Logger) (hardware.Arm, error) {
		return sim, nil
	}
}

func startTestServer(t *testing.T) (*Server, *hardware.SimArm) {
	t.Helper()
	sim := hardware.NewSimArm(5)
	srv := New(testConfig(t), simOpener(sim), logging.NewTestLogger(t))
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Close() })
	return srv, sim
}

type testConn struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, srv *Server) *testConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn}
}

func (c *testConn) send(frame string) string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := c.conn.Write([]byte(frame))
	require.NoError(c.t, err)
	buf := make([]byte, protocol.BufferSize)
	n, err := c.conn.Read(buf)
	require.NoError(c.t, err)
	return string(buf[:n])
}

func TestServerPowersOnArm(t *testing.T) {
	srv, sim := startTestServer(t)
	assert.True(t, srv.Running())
	assert.True(t, sim.Powered())
}

func TestServerRoundTrip(t *testing.T) {
	srv, sim := startTestServer(t)
	c := dial(t, srv)

	assert.Equal(t, "pong", c.send("ping"))
	assert.Equal(t, "pong", c.send("ping\n"))
	assert.Equal(t, "Unknown command: xyz", c.send("xyz"))

	assert.Equal(t, "Recording started", c.send("r"))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, strings.HasPrefix(c.send("c"), "Recording stopped ("))
	assert.Equal(t, "Trajectory saved: tank_left", c.send("stank_left"))

	infos, err := protocol.DecodeTrajectoryList(c.send("t"))
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "tank_left", infos[0].Name)

	assert.Equal(t, "Robot released", c.send("f"))
	assert.False(t, sim.Powered())

	assert.Equal(t, "Trajectory deleted: tank_left", c.send("dtank_left"))
	assert.Equal(t, "Trajectory not found: tank_left", c.send("dtank_left"))
}

func TestServerQuitClosesConnection(t *testing.T) {
	srv, _ := startTestServer(t)
	c := dial(t, srv)

	assert.Equal(t, "quit", c.send("q"))
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := c.conn.Read(make([]byte, 16))
	assert.True(t, errors.Is(err, io.EOF), "expected EOF, got %v", err)
}

func TestServerTracksClients(t *testing.T) {
	srv, _ := startTestServer(t)

	a := dial(t, srv)
	b := dial(t, srv)
	assert.Equal(t, "pong", a.send("ping"))
	assert.Equal(t, "pong", b.send("ping"))
	assert.Equal(t, map[string]int{"127.0.0.1": 2}, srv.Clients())

	a.conn.Close()
	require.Eventually(t, func() bool {
		return srv.Clients()["127.0.0.1"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	b.conn.Close()
	require.Eventually(t, func() bool {
		return len(srv.Clients()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerHardwareInitRetries(t *testing.T) {
	t.Run("succeeds on a later attempt", func(t *testing.T) {
		var calls atomic.Int32
		sim := hardware.NewSimArm(5)
		srv := New(testConfig(t), func(hardware.Config, logging.Logger) (hardware.Arm, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("port busy")
			}
			return sim, nil
		}, logging.NewTestLogger(t))
		defer srv.Close()

		require.NoError(t, srv.Start(context.Background()))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		var calls atomic.Int32
		srv := New(testConfig(t), func(hardware.Config, logging.Logger) (hardware.Arm, error) {
			calls.Add(1)
			return nil, errors.New("port busy")
		}, logging.NewTestLogger(t))

		err := srv.Start(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port busy")
		assert.Equal(t, int32(3), calls.Load())
		assert.False(t, srv.Running())
	})

	t.Run("power on failure counts as an attempt", func(t *testing.T) {
		sim := hardware.NewSimArm(5)
		sim.FailWrites(errors.New("no power"))
		srv := New(testConfig(t), simOpener(sim), logging.NewTestLogger(t))

		require.Error(t, srv.Start(context.Background()))
	})
}

func TestServerCloseStopsEverything(t *testing.T) {
	srv, sim := startTestServer(t)
	c := dial(t, srv)

	assert.Equal(t, "Recording started", c.send("r"))
	time.Sleep(40 * time.Millisecond)
	assert.True(t, strings.HasPrefix(c.send("c"), "Recording stopped ("))
	assert.Equal(t, "Loop play started", c.send("P"))

	require.NoError(t, srv.Close())
	assert.False(t, srv.Running())
	assert.False(t, srv.State().Playing())
	assert.True(t, sim.Closed())

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := c.conn.Read(make([]byte, 16))
	assert.Error(t, err)

	_, err = net.DialTimeout("tcp", srv.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err)

	assert.NoError(t, srv.Close())
}

func TestServerCloseWhileRecording(t *testing.T) {
	srv, _ := startTestServer(t)
	c := dial(t, srv)

	assert.Equal(t, "Recording started", c.send("r"))
	require.NoError(t, srv.Close())
	assert.False(t, srv.State().Recording())
}

func TestLongListingKeepsFraming(t *testing.T) {
	srv, _ := startTestServer(t)
	for i := 0; i < 30; i++ {
		require.NoError(t, srv.store.Save(fmt.Sprintf("trajectory_%02d", i), steps(i, 1)))
	}

	cfg := client.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = srv.Addr().(*net.TCPAddr).Port
	m := client.New(cfg, clock.New(), logging.NewTestLogger(t))
	defer m.Close()

	_, err := client.GetTrajectories(m)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do not fit")

	assert.Equal(t, protocol.Pong, m.SendCommand(protocol.OpPing, ""))
	assert.Equal(t, protocol.NotRecording, m.SendCommand(protocol.OpStopRecord, ""))
	assert.True(t, m.Connected())
}

func TestOversizedCommandClosesConnection(t *testing.T) {
	srv, _ := startTestServer(t)
	c := dial(t, srv)

	resp := c.send(strings.Repeat("p", protocol.BufferSize))
	assert.True(t, strings.HasPrefix(resp, "Error: "), resp)
	assert.Contains(t, resp, protocol.ErrFrameTooLong.Error())

	_, err := c.conn.Read(make([]byte, protocol.BufferSize))
	assert.Error(t, err)
}
