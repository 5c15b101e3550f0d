package tcp

import (
	"net"

	"go.uber.org/zap"

	"github.com/lair-chat/server/internal/v1/logging"
)

// Server accepts TCP connections and serves each one until the listener is
// closed, mirroring the teacher's graceful-shutdown-via-context convention
// from cmd/v1/session/main.go.
type Server struct {
	ln   net.Listener
	deps *Deps
}

// Listen binds addr and returns a Server ready to Serve. Binding is
// separated from serving so callers can log the resolved address (useful
// when addr uses port 0) before blocking.
func Listen(addr string, deps *Deps) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{ln: ln, deps: deps}, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

// Run accepts connections until the listener is closed (typically via
// Close from a shutdown goroutine), spawning one goroutine per connection.
func (s *Server) Run() error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return err
		}
		go Serve(nc, s.deps)
	}
}

func (s *Server) Close() error {
	logging.Info(nil, "tcp: listener closing", zap.String("addr", s.Addr()))
	return s.ln.Close()
}
