// Package realtime relays editing events between clients working on the same
// document. Rooms are keyed by filename; the relay carries payloads opaquely.
package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Actions a client can ask for over the socket.
const (
	ActionJoin  = "join"
	ActionLeave = "leave"
	ActionSend  = "send"
)

// Message is the wire format for room traffic in both directions.
type Message struct {
	Action string          `json:"action"`
	Room   string          `json:"room"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// subscriber receives messages relayed into a room.
type subscriber interface {
	Send(msg Message) error
}

// Hub tracks room membership and fans messages out to members.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[subscriber]bool
}

func NewHub() *Hub {
	return &Hub{rooms: map[string]map[subscriber]bool{}}
}

func (h *Hub) join(room string, sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = map[subscriber]bool{}
	}
	h.rooms[room][sub] = true
}

func (h *Hub) leave(room string, sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[room], sub)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
}

// drop removes a subscriber from every room it joined.
func (h *Hub) drop(sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, members := range h.rooms {
		delete(members, sub)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// relay sends a message to every member of the room except the sender.
func (h *Hub) relay(msg Message, sender subscriber) {
	h.mu.RLock()
	members := make([]subscriber, 0, len(h.rooms[msg.Room]))
	for member := range h.rooms[msg.Room] {
		if member != sender {
			members = append(members, member)
		}
	}
	h.mu.RUnlock()

	for _, member := range members {
		if err := member.Send(msg); err != nil {
			log.Printf("realtime: relay to room %s: %v", msg.Room, err)
		}
	}
}

// Broadcast sends a server-originated message to every member of the room.
// Used to notify editors after a document is saved through the HTTP API.
func (h *Hub) Broadcast(room string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("realtime: marshal broadcast for room %s: %v", room, err)
		return
	}
	h.relay(Message{Action: ActionSend, Room: room, Data: payload}, nil)
}

// RoomSize reports the current number of members in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The HTTP layer already enforces the allowed origin via CORS; the
	// socket accepts the same clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient adapts a websocket connection to the subscriber interface.
// Writes are serialized; gorilla connections do not allow concurrent writers.
type wsClient struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsClient) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// HandleWS upgrades the request and runs the read loop until the client
// disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade: %v", err)
		return
	}

	client := &wsClient{conn: conn}
	defer func() {
		h.drop(client)
		conn.Close()
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("realtime: read: %v", err)
			}
			return
		}
		if msg.Room == "" {
			continue
		}

		switch msg.Action {
		case ActionJoin:
			h.join(msg.Room, client)
		case ActionLeave:
			h.leave(msg.Room, client)
		case ActionSend:
			h.relay(msg, client)
		}
	}
}
