package supervisor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ipcWriteTimeout bounds a single response write so a stalled client
// cannot pin a handler goroutine.
const ipcWriteTimeout = 5 * time.Second

// Request is one line sent to the IPC socket. A bare command word is
// also accepted so `echo STATUS | nc -U` style probes work.
type Request struct {
	Command string `json:"command"`
	// Worker narrows REFRESH to a single worker and names the target
	// for RESTART. An empty worker refreshes all.
	Worker string `json:"worker,omitempty"`
}

// Response is one line written back for each request.
type Response struct {
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// IPCServer answers newline-delimited JSON commands on a local UNIX
// socket: STATUS, REFRESH, RESTART, SHUTDOWN. SHUTDOWN is the
// low-privilege stop path; it acknowledges first, then asks the process
// to exit.
type IPCServer struct {
	path            string
	sup             *Supervisor
	requestShutdown func()
	log             zerolog.Logger

	ln net.Listener
	wg sync.WaitGroup

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// NewIPCServer creates the server. requestShutdown is invoked after a
// SHUTDOWN command has been acknowledged; main wires it to the same path
// as SIGTERM.
func NewIPCServer(path string, sup *Supervisor, requestShutdown func(), log zerolog.Logger) *IPCServer {
	return &IPCServer{
		path:            path,
		sup:             sup,
		requestShutdown: requestShutdown,
		log:             log.With().Str("component", "ipc").Logger(),
		conns:           make(map[net.Conn]struct{}),
	}
}

// Start binds the socket and serves in the background. A stale socket
// file from a previous run is removed first.
func (s *IPCServer) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.path, err)
	}
	// Owner-only: the socket can stop the service.
	if err := os.Chmod(s.path, 0o600); err != nil {
		s.log.Warn().Err(err).Msg("Failed to restrict socket permissions")
	}

	s.ln = ln
	s.log.Info().Str("socket", s.path).Msg("IPC server listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// handler goroutines and removes the socket file.
func (s *IPCServer) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if s.ln != nil {
		s.ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn().Err(err).Msg("Failed to remove socket file")
	}
	s.log.Info().Msg("IPC server stopped")
}

func (s *IPCServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.log.Warn().Err(err).Msg("IPC accept failed")
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *IPCServer) handle(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		resp := s.dispatch(line)
		conn.SetWriteDeadline(time.Now().Add(ipcWriteTimeout))
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *IPCServer) dispatch(line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		req = Request{Command: string(line)}
	}

	cmd := strings.ToUpper(strings.TrimSpace(req.Command))
	s.log.Debug().Str("command", cmd).Msg("IPC command received")

	switch cmd {
	case "STATUS":
		st := s.sup.Status()
		return Response{OK: true, Status: &st}

	case "REFRESH":
		if req.Worker != "" {
			if err := s.sup.RefreshWorker(req.Worker); err != nil {
				return Response{OK: false, Error: err.Error()}
			}
			return Response{OK: true}
		}
		s.sup.RefreshAll()
		return Response{OK: true}

	case "RESTART":
		if req.Worker == "" {
			return Response{OK: false, Error: "restart requires a worker name"}
		}
		if err := s.sup.RestartWorker(req.Worker); err != nil {
			return Response{OK: false, Error: err.Error()}
		}
		return Response{OK: true}

	case "SHUTDOWN":
		s.log.Info().Msg("Shutdown requested over IPC")
		if s.requestShutdown != nil {
			// Acknowledge before the process starts tearing down.
			go s.requestShutdown()
		}
		return Response{OK: true}

	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command: %q", req.Command)}
	}
}

func (s *IPCServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *IPCServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *IPCServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
