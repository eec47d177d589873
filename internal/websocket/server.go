package websocket

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hut8/soar-sub007/internal/fix"
	"github.com/hut8/soar-sub007/pkg/logger"
)

// Client message types
const (
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypeError        = "error"
)

// clientQueueSize bounds the per-client outbound queue. When a slow
// consumer falls behind, the oldest queued message is dropped so the
// stream stays current.
const clientQueueSize = 256

// ControlMessage is the envelope for client-to-server messages and the
// server's acknowledgements
type ControlMessage struct {
	Type           string  `json:"type"`
	AircraftID     string  `json:"aircraft_id,omitempty"`
	Bounds         *Bounds `json:"bounds,omitempty"`
	SubscriptionID string  `json:"subscription_id,omitempty"`
}

// subscription is one active routing rule on a client
type subscription struct {
	id       string
	aircraft string
	bounds   *Bounds
}

func (s *subscription) matches(e *fix.Event) bool {
	if s.aircraft != "" {
		return e.Device == s.aircraft
	}
	if s.bounds != nil {
		return s.bounds.Contains(e.Latitude, e.Longitude)
	}
	return false
}

// Client represents one WebSocket consumer
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	server    *Server
	mu        sync.Mutex
	closed    bool
	closeChan chan struct{}
	subs      map[string]*subscription
}

// Server fans accepted events out to subscribed WebSocket clients
type Server struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	events     chan *fix.Event
	shutdown   chan struct{}
	done       chan struct{}
	upgrader   websocket.Upgrader
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewServer creates a new WebSocket fan-out server
func NewServer(log *logger.Logger) *Server {
	return &Server{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan *fix.Event, 1024),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: log.Named("web-socket"),
	}
}

// Run starts the fan-out loop. It returns when Stop is called.
func (s *Server) Run() {
	s.logger.Info("Starting WebSocket server")
	defer close(s.done)

	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.mu.Unlock()
			s.logger.Debug("Client registered", logger.Int("client_count", clientCount))

		case client := <-s.unregister:
			s.removeClient(client)

		case event := <-s.events:
			s.dispatch(event)

		case <-s.shutdown:
			s.mu.Lock()
			for client := range s.clients {
				client.Close()
				delete(s.clients, client)
			}
			s.mu.Unlock()
			return
		}
	}
}

// Stop shuts down the fan-out loop and disconnects all clients
func (s *Server) Stop() {
	close(s.shutdown)
	<-s.done
}

// Publish queues an event for routing. Publishing never blocks the
// ingest path: when the routing queue is full the oldest queued event is
// discarded.
func (s *Server) Publish(e fix.Event) {
	select {
	case s.events <- &e:
		return
	default:
	}
	select {
	case <-s.events:
	default:
	}
	select {
	case s.events <- &e:
	default:
	}
}

// dispatch routes one event to every client with a matching subscription
func (s *Server) dispatch(e *fix.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.logger.Error("Failed to marshal event", logger.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		if client.wants(e) {
			client.enqueue(payload)
		}
	}
}

func (s *Server) removeClient(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		client.Close()
	}
	clientCount := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("Client unregistered", logger.Int("client_count", clientCount))
}

// HandleConnection upgrades an HTTP request and starts the client pumps
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	s.logger.Debug("Client connected", logger.String("remote_addr", r.RemoteAddr))

	client := &Client{
		conn:      conn,
		send:      make(chan []byte, clientQueueSize),
		server:    s,
		closeChan: make(chan struct{}),
		subs:      make(map[string]*subscription),
	}

	s.register <- client

	go client.readPump()
	go client.writePump()
}

// wants reports whether any of the client's subscriptions match the event
func (c *Client) wants(e *fix.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	for _, sub := range c.subs {
		if sub.matches(e) {
			return true
		}
	}
	return false
}

// enqueue appends a payload to the client's send queue, evicting the
// oldest queued payload when the consumer has fallen behind
func (c *Client) enqueue(payload []byte) {
	select {
	case c.send <- payload:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- payload:
	default:
	}
}

// readPump consumes control messages from the client
func (c *Client) readPump() {
	defer func() {
		c.server.unregister <- c
	}()

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Error("WebSocket read error", logger.Error(err))
			}
			return
		}

		var msg ControlMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.sendControl(&ControlMessage{Type: MessageTypeError})
			continue
		}

		switch msg.Type {
		case MessageTypeSubscribe:
			c.handleSubscribe(&msg)
		case MessageTypeUnsubscribe:
			c.handleUnsubscribe(&msg)
		default:
			c.server.logger.Debug("Unknown control message",
				logger.String("type", msg.Type))
		}
	}
}

func (c *Client) handleSubscribe(msg *ControlMessage) {
	if msg.AircraftID == "" && msg.Bounds == nil {
		c.sendControl(&ControlMessage{Type: MessageTypeError})
		return
	}
	if msg.Bounds != nil {
		if err := msg.Bounds.Validate(); err != nil {
			c.server.logger.Debug("Rejected subscription bounds", logger.Error(err))
			c.sendControl(&ControlMessage{Type: MessageTypeError})
			return
		}
	}

	sub := &subscription{
		id:       uuid.NewString(),
		aircraft: msg.AircraftID,
		bounds:   msg.Bounds,
	}

	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()

	c.sendControl(&ControlMessage{
		Type:           MessageTypeSubscribed,
		AircraftID:     msg.AircraftID,
		Bounds:         msg.Bounds,
		SubscriptionID: sub.id,
	})
}

func (c *Client) handleUnsubscribe(msg *ControlMessage) {
	c.mu.Lock()
	_, ok := c.subs[msg.SubscriptionID]
	if ok {
		delete(c.subs, msg.SubscriptionID)
	}
	c.mu.Unlock()

	if !ok {
		c.sendControl(&ControlMessage{
			Type:           MessageTypeError,
			SubscriptionID: msg.SubscriptionID,
		})
		return
	}
	c.sendControl(&ControlMessage{
		Type:           MessageTypeUnsubscribed,
		SubscriptionID: msg.SubscriptionID,
	})
}

func (c *Client) sendControl(msg *ControlMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(payload)
}

// writePump pumps queued payloads to the WebSocket connection
func (c *Client) writePump() {
	defer c.conn.Close()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.closeChan:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.closeChan)
	c.conn.Close()
}
