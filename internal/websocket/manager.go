// Package websocket streams session and sync progress events to connected
// API clients.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"notes-sync-indexer/internal/domain"
)

type Manager struct {
	clients        map[string]*Client
	userIndex      map[string]map[string]bool
	clientsMutex   sync.RWMutex
	Register       chan *Client
	Unregister     chan *Client
	maxConnPerUser int
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
	operatorID     string
	done           chan struct{}
}

type Options struct {
	MaxConnPerUser int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	// OperatorID receives events that belong to no note owner.
	OperatorID string
}

func NewManager(opts Options) *Manager {
	if opts.MaxConnPerUser <= 0 {
		opts.MaxConnPerUser = 5
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}
	return &Manager{
		clients:        make(map[string]*Client),
		userIndex:      make(map[string]map[string]bool),
		Register:       make(chan *Client),
		Unregister:     make(chan *Client),
		maxConnPerUser: opts.MaxConnPerUser,
		writeWait:      opts.WriteWait,
		pongWait:       opts.PongWait,
		pingPeriod:     opts.PingPeriod,
		maxMessageSize: opts.MaxMessageSize,
		operatorID:     opts.OperatorID,
		done:           make(chan struct{}),
	}
}

// Run serves registrations until ctx is done, then disconnects every client.
func (m *Manager) Run(ctx context.Context) error {
	for {
		select {
		case client := <-m.Register:
			m.registerClient(client)

		case client := <-m.Unregister:
			m.unregisterClient(client)

		case <-ctx.Done():
			m.closeAll()
			close(m.done)
			return nil
		}
	}
}

func (m *Manager) registerClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.userIndex[client.UserID] == nil {
		m.userIndex[client.UserID] = make(map[string]bool)
	}

	if len(m.userIndex[client.UserID]) >= m.maxConnPerUser {
		slog.Warn("max websocket connections reached", "user_id", client.UserID)
		close(client.Send)
		return
	}

	m.clients[client.ID] = client
	m.userIndex[client.UserID][client.ID] = true

	slog.Info("websocket client registered", "client_id", client.ID, "user_id", client.UserID)
}

func (m *Manager) unregisterClient(client *Client) {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if existing, ok := m.clients[client.ID]; ok && existing == client {
		delete(m.clients, client.ID)
		delete(m.userIndex[client.UserID], client.ID)

		if len(m.userIndex[client.UserID]) == 0 {
			delete(m.userIndex, client.UserID)
		}

		close(client.Send)
		slog.Info("websocket client unregistered", "client_id", client.ID)
	}
}

func (m *Manager) closeAll() {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	for id, client := range m.clients {
		close(client.Send)
		delete(m.clients, id)
	}
	m.userIndex = make(map[string]map[string]bool)
}

// Publish sends an event to the clients of its owner. Events without an
// owner go to the operator only.
func (m *Manager) Publish(ctx context.Context, event domain.Event) {
	target := event.OwnerID
	if target == "" {
		target = m.operatorID
	}
	if target == "" {
		slog.DebugContext(ctx, "dropping event with no recipient", "type", event.Type)
		return
	}
	msg, err := NewMessage(MessageType(event.Type), event.Payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode event", "type", event.Type, "error", err)
		return
	}
	if err := m.BroadcastToUser(target, msg); err != nil {
		slog.ErrorContext(ctx, "failed to send event", "type", event.Type, "user_id", target, "error", err)
	}
}

func (m *Manager) BroadcastToUser(userID string, message *Message) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	var slow []*Client
	for clientID := range m.userIndex[userID] {
		client := m.clients[clientID]
		if !client.enqueue(messageBytes) {
			slow = append(slow, client)
		}
	}
	m.clientsMutex.RUnlock()

	m.dropSlow(slow)
	return nil
}

// dropSlow unregisters clients whose send buffer is full. It must not be
// called with clientsMutex held.
func (m *Manager) dropSlow(clients []*Client) {
	for _, client := range clients {
		slog.Warn("websocket send buffer full, closing connection", "client_id", client.ID)
		go m.unregister(client)
	}
}

// Attach registers client and starts its pumps. It reports false once the
// manager has stopped.
func (m *Manager) Attach(client *Client) bool {
	select {
	case m.Register <- client:
	case <-m.done:
		client.Conn.Close()
		return false
	}
	go client.WritePump()
	go client.ReadPump()
	return true
}

func (m *Manager) unregister(client *Client) {
	select {
	case m.Unregister <- client:
	case <-m.done:
	}
}

func (m *Manager) SendToClient(clientID string, message *Message) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}
	if !client.enqueue(messageBytes) {
		slog.Warn("websocket send buffer full", "client_id", clientID)
	}
	return nil
}

func (m *Manager) GetUserConnections(userID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.userIndex[userID]; exists {
		return len(clients)
	}
	return 0
}

// HasRoom reports whether userID may open another connection.
func (m *Manager) HasRoom(userID string) bool {
	return m.GetUserConnections(userID) < m.maxConnPerUser
}
