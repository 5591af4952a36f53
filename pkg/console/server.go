package console

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/autopatch-io/autopatch/pkg/version"
)

// Server exposes a Handler on a TCP listener. Each connection gets its
// own session: commands arrive newline-delimited and replies are
// written back on the same connection.
type Server struct {
	handler *Handler
	logger  *slog.Logger

	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup

	connsMu sync.Mutex
	conns   map[string]net.Conn
}

// NewServer creates a console server around handler. A nil logger
// disables logging.
func NewServer(handler *Handler, logger *slog.Logger) *Server {
	return &Server{
		handler: handler,
		logger:  logger,
		conns:   make(map[string]net.Conn),
	}
}

// Start begins listening on addr and accepting sessions.
func (s *Server) Start(addr string) error {
	if s.running.Load() {
		return fmt.Errorf("console server already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("console listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.infoLog("console listening", "addr", listener.Addr().String())
	return nil
}

// Stop closes the listener and every active session, then waits for the
// session goroutines to finish.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	err := s.listener.Close()

	s.connsMu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the bound listen address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ConnectionCount returns the number of attached sessions.
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// acceptLoop accepts incoming sessions until the server stops.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.warnLog("console accept failed", "error", err.Error())
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn runs one session until the peer disconnects or quits.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	connID := uuid.New().String()

	s.connsMu.Lock()
	s.conns[connID] = conn
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, connID)
		s.connsMu.Unlock()
	}()

	s.infoLog("console session opened",
		"conn_id", connID, "remote", conn.RemoteAddr().String())

	w := bufio.NewWriter(conn)
	fmt.Fprintf(w, "autopatchd %s console (type 'help' for commands)\n", version.Version)
	if err := w.Flush(); err != nil {
		return
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		quit := s.handler.Execute(w, scanner.Text())
		if err := w.Flush(); err != nil {
			break
		}
		if quit {
			break
		}
	}

	s.infoLog("console session closed", "conn_id", connID)
}

func (s *Server) infoLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Server) warnLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
