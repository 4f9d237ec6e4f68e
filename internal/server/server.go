// Package server owns the three TCP listeners a running daemon exposes:
// the line-oriented command socket, and the waveform/spike binary data
// sockets tcpoutput.Stage writes to once a peer connects. The accept-loop
// shape — net.Listen, a best-effort SO_REUSEADDR, then an unbounded
// Accept loop spawning one handler goroutine per client — follows the
// teacher's kissnet.go connect_listen_thread.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/acquicore/daqcore/internal/command"
)

// WaveformConnSetter and SpikeConnSetter are the two hooks tcpoutput.Stage
// exposes; kept as narrow interfaces here so this package doesn't need to
// import the stage's full type.
type WaveformConnSetter interface{ SetWaveformConn(net.Conn) }
type SpikeConnSetter interface{ SetSpikeConn(net.Conn) }

// CommandServer accepts one connection at a time on the command port and
// dispatches every line it receives through a command.Parser, writing
// back one Response line per parsed command. Unlike the teacher's
// MAX_NET_CLIENTS-wide KISS port, only one command-socket client is
// meaningful at a time (SystemState has a single control thread), so a
// newly accepted connection replaces whatever client held it before.
type CommandServer struct {
	Parser *command.Parser
	Log    *log.Logger

	mu   sync.Mutex
	conn net.Conn
}

// ListenAndServe binds port and accepts connections until ctx is
// cancelled. It never returns a non-nil error except a bind failure.
func (s *CommandServer) ListenAndServe(ctx context.Context, port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("command server: listen: %w", err)
	}
	setReuseAddr(listener)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if s.Log != nil {
				s.Log.Warn("command server: accept failed", "err", err)
			}
			continue
		}
		s.replaceConn(conn)
		go s.handle(ctx, conn)
	}
}

func (s *CommandServer) replaceConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
}

func (s *CommandServer) handle(ctx context.Context, conn net.Conn) {
	if s.Log != nil {
		s.Log.Info("command server: client attached", "addr", conn.RemoteAddr())
	}
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		for _, resp := range s.Parser.ParseLine(scanner.Text()) {
			if _, err := fmt.Fprintln(conn, resp.Text); err != nil {
				return
			}
		}
	}
}

// DataServer accepts exactly one peer at a time on a binary data port
// (waveform or spike) and installs it on a Setter, clearing it back to
// nil when the peer disconnects.
type DataServer struct {
	Log    *log.Logger
	Name   string // "waveform" or "spike", for logging only
	Setter interface {
		set(net.Conn)
	}
}

// waveformSetter and spikeSetter adapt the stage's two distinctly-named
// methods to DataServer's single internal Setter shape.
type waveformSetter struct{ s WaveformConnSetter }

func (w waveformSetter) set(c net.Conn) { w.s.SetWaveformConn(c) }

type spikeSetter struct{ s SpikeConnSetter }

func (sp spikeSetter) set(c net.Conn) { sp.s.SetSpikeConn(c) }

// NewWaveformDataServer builds a DataServer wired to a tcpoutput.Stage's
// SetWaveformConn.
func NewWaveformDataServer(log *log.Logger, stage WaveformConnSetter) *DataServer {
	return &DataServer{Log: log, Name: "waveform", Setter: waveformSetter{stage}}
}

// NewSpikeDataServer builds a DataServer wired to a tcpoutput.Stage's
// SetSpikeConn.
func NewSpikeDataServer(log *log.Logger, stage SpikeConnSetter) *DataServer {
	return &DataServer{Log: log, Name: "spike", Setter: spikeSetter{stage}}
}

// ListenAndServe binds port and, on each accepted connection, installs it
// on Setter until the peer disconnects, then clears it. Only one data
// peer is meaningful at a time, same as CommandServer.
func (d *DataServer) ListenAndServe(ctx context.Context, port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("%s data server: listen: %w", d.Name, err)
	}
	setReuseAddr(listener)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if d.Log != nil {
				d.Log.Warn("data server: accept failed", "name", d.Name, "err", err)
			}
			continue
		}
		if d.Log != nil {
			d.Log.Info("data server: client attached", "name", d.Name, "addr", conn.RemoteAddr())
		}
		d.Setter.set(conn)
		go d.waitForClose(conn)
	}
}

// waitForClose blocks on a zero-byte read so a TCP FIN/RST from the peer
// is observed promptly, then clears the stage's connection so tcpoutput
// stops trying to write to a dead socket.
func (d *DataServer) waitForClose(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			d.Setter.set(nil)
			conn.Close()
			return
		}
	}
}

// setReuseAddr mirrors the teacher's "don't make the port unavailable for
// a while after a quick restart" fix, applied on a best-effort basis: a
// failure here is not fatal since Go's net package already rebinds
// cleanly on most platforms.
func setReuseAddr(listener net.Listener) {
	tcpListener, ok := listener.(*net.TCPListener)
	if !ok {
		return
	}
	file, err := tcpListener.File()
	if err != nil {
		return
	}
	defer file.Close()
	syscall.SetsockoptInt(int(file.Fd()), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
