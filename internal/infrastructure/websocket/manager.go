package websocket

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client represents a WebSocket connection client. One user may hold several.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	closed    chan struct{}
	closeOnce sync.Once
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// Closed is closed once the connection is shutting down.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// enqueue never blocks; a client that cannot keep up is disconnected.
func (c *Client) enqueue(message []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.Send <- message:
		return true
	case <-c.closed:
		return false
	default:
		log.Printf("WebSocket: Client %s send channel full, closing connection", c.UserID)
		c.close()
		return false
	}
}

// Manager manages all active WebSocket connections
type Manager struct {
	clients    map[string]map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
	done       chan struct{}
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Done is closed once the manager loop has stopped.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// RegisterClient hands the client to the manager loop. It reports false, and
// closes the client, when the manager has already stopped.
func (m *Manager) RegisterClient(client *Client) bool {
	select {
	case m.Register <- client:
		return true
	case <-m.done:
		client.close()
		return false
	}
}

// UnregisterClient never blocks past manager shutdown.
func (m *Manager) UnregisterClient(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.done:
		client.close()
	}
}

// Start runs the manager's main loop in a goroutine
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				if m.clients[client.UserID] == nil {
					m.clients[client.UserID] = make(map[*Client]struct{})
				}
				m.clients[client.UserID][client] = struct{}{}
				count := len(m.clients[client.UserID])
				m.mutex.Unlock()
				log.Printf("Client registered: %s (%d connections)", client.UserID, count)

			case client := <-m.Unregister:
				m.mutex.Lock()
				if set, ok := m.clients[client.UserID]; ok {
					delete(set, client)
					if len(set) == 0 {
						delete(m.clients, client.UserID)
					}
				}
				m.mutex.Unlock()
				client.close()
				log.Printf("Client unregistered: %s", client.UserID)

			case <-ctx.Done():
				m.mutex.Lock()
				for _, set := range m.clients {
					for client := range set {
						client.close()
					}
				}
				m.clients = make(map[string]map[*Client]struct{})
				m.mutex.Unlock()
				close(m.done)
				return
			}
		}
	}()
}

// SendToUser sends a message to every connection of a user.
func (m *Manager) SendToUser(userID string, message []byte) int {
	m.mutex.RLock()
	targets := make([]*Client, 0, len(m.clients[userID]))
	for client := range m.clients[userID] {
		targets = append(targets, client)
	}
	m.mutex.RUnlock()

	delivered := 0
	for _, client := range targets {
		if client.enqueue(message) {
			delivered++
		}
	}
	return delivered
}

func (m *Manager) ConnectionCount(userID string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients[userID])
}

func (m *Manager) OnlineUsers() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// ReadPump reads messages from the WebSocket connection until it fails or ctx
// ends, dispatching each one to the session.
func (c *Client) ReadPump(ctx context.Context, m *Manager, session SessionController) {
	defer func() {
		m.UnregisterClient(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket: read error for %s: %v", c.UserID, err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		m.HandleClientMessage(ctx, c, session, message)
	}
}

// WritePump sends messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket: write error for %s: %v", c.UserID, err)
				c.close()
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.closed:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
