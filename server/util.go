package server

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teranos/missionctl/errors"
)

// upgrader creates a WebSocket upgrader with origin checking from config
func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin validates the Origin header against server.allowed_origins.
// Prefix matching lets any port through for an allowed host.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Direct clients (curl, runners, tests) send no origin
	if origin == "" {
		return true
	}

	for _, allowed := range s.origins() {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}

// runnerSecretFrom reads the secret from "Authorization: Bearer" or X-Runner-Secret
func runnerSecretFrom(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Runner-Secret"))
}

// authorizeRunner returns ErrUnauthorized unless the request carries the
// configured secret. An unset secret locks the runner endpoints entirely.
func (s *Server) authorizeRunner(r *http.Request) error {
	want := s.secret()
	got := runnerSecretFrom(r)
	if want == "" || got == "" {
		return errors.Wrap(errors.ErrUnauthorized, "runner secret required")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return errors.Wrap(errors.ErrUnauthorized, "runner secret mismatch")
	}
	return nil
}

// isPortAvailable checks if a port is available for binding
func isPortAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = listener.Close() // best-effort check, the real bind reports its own error
	return true
}

// findAvailablePort tries the requested port, then the next ten
func findAvailablePort(requestedPort int) (int, error) {
	for port := requestedPort; port <= requestedPort+10; port++ {
		if isPortAvailable(port) {
			return port, nil
		}
	}
	return 0, errors.Newf("no available ports found (tried %d-%d)", requestedPort, requestedPort+10)
}
