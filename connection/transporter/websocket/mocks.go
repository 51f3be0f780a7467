package websocket

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wsession/wsession/logger"
)

// MockWebsocketServer echoes every message back on the connection it arrived
// on. Tests can make it refuse upgrades, drop connections abruptly, or close
// them with a close frame.
//
// Adapted from: https://golangdocs.com/golang-gorilla-websockets
type MockWebsocketServer struct {
	logger   *logger.Logger
	listener net.Listener
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	refuse  int
	accepts int

	Addr          string
	ReceivedBytes chan []byte
}

func NewMockWebsocketServer(logger *logger.Logger, subprotocols ...string) *MockWebsocketServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Errorf("failed to setup listener: %s", err)
		return nil
	}

	mockServer := &MockWebsocketServer{
		logger:        logger,
		listener:      listener,
		upgrader:      websocket.Upgrader{Subprotocols: subprotocols},
		conns:         make(map[*websocket.Conn]struct{}),
		Addr:          fmt.Sprintf("http://%s", listener.Addr().String()),
		ReceivedBytes: make(chan []byte, 100),
	}

	go func() {
		http.Serve(mockServer.listener, mockServer)
	}()

	return mockServer
}

// Refuse makes the next n upgrade requests fail with 503
func (m *MockWebsocketServer) Refuse(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refuse = n
}

// Accepts is the number of upgrades that succeeded so far
func (m *MockWebsocketServer) Accepts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepts
}

// DropAll closes every live connection without a close frame
func (m *MockWebsocketServer) DropAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.conns {
		conn.Close()
	}
}

// CloseAll sends a close frame with the given code on every live connection
func (m *MockWebsocketServer) CloseAll(code int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	message := websocket.FormatCloseMessage(code, reason)
	for conn := range m.conns {
		conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	}
}

// Push writes a message to every live connection
func (m *MockWebsocketServer) Push(message []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn := range m.conns {
		conn.WriteMessage(websocket.TextMessage, message)
	}
}

func (m *MockWebsocketServer) Shutdown() {
	m.listener.Close()
	m.DropAll()
}

func (m *MockWebsocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	if m.refuse > 0 {
		m.refuse--
		m.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	m.mu.Unlock()

	// Upgrade our raw HTTP connection to a websocket based one
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Errorf("Error during connection upgradation: %s", err)
		return
	}

	m.mu.Lock()
	m.conns[conn] = struct{}{}
	m.accepts++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.conns, conn)
		m.mu.Unlock()
		conn.Close()
	}()

	// The event loop
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			m.logger.Infof("Mock server stopped reading: %s", err)
			break
		}

		m.ReceivedBytes <- message

		m.mu.Lock()
		err = conn.WriteMessage(messageType, message)
		m.mu.Unlock()
		if err != nil {
			m.logger.Errorf("Error during message writing: %s", err)
			break
		}
	}
}
