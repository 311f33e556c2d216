package notify

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/molior-deb/molior/common/logger"
	"github.com/molior-deb/molior/common/models"
	"github.com/molior-deb/molior/server/services"
	"github.com/molior-deb/molior/server/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one websocket connection. Writes are serialized through mu since
// broadcasts and the live log tailer of the client write concurrently.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
	// livelog is the tailer currently streaming a build log to this client,
	// guarded by the hub mutex.
	livelog *buildLogger
}

func (c *client) send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// clientMessage is a request received from a websocket client, e.g. to start
// or stop watching a build log.
type clientMessage struct {
	Subject models.Subject     `json:"subject"`
	Action  models.Action      `json:"action"`
	Data    *clientMessageData `json:"data"`
}

type clientMessageData struct {
	BuildID int64 `json:"build_id"`
}

// Hub tracks connected websocket clients, broadcasts events to all of them
// and manages the per-client build log tailers.
type Hub struct {
	buildStore store.BuildStore
	workingDir services.WorkingDirectory
	clk        clock.Clock

	mu      sync.RWMutex
	clients map[*client]bool

	logger.Log
}

func NewHub(
	buildStore store.BuildStore,
	workingDir services.WorkingDirectory,
	clk clock.Clock,
	logFactory logger.LogFactory,
) *Hub {
	return &Hub{
		buildStore: buildStore,
		workingDir: workingDir,
		clk:        clk,
		clients:    make(map[*client]bool),
		Log:        logFactory("WebsocketHub"),
	}
}

// ServeHTTP upgrades the connection and pumps client messages until the
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Errorf("Error upgrading websocket connection: %s", err)
		return
	}
	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()
	h.Debugf("Websocket client connected (%d total)", total)

	welcome, err := json.Marshal(&models.WebsocketEvent{Subject: models.SubjectWebsocket, Event: models.EventConnected})
	if err == nil {
		err = c.send(welcome)
	}
	if err != nil {
		h.Warnf("Error sending connected message: %s", err)
	}

	defer func() {
		h.unregister(c)
		conn.Close()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.Warnf("Websocket error: %s", err)
			}
			return
		}
		h.handleMessage(c, data)
	}
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(event *models.WebsocketEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.Errorf("Error marshaling websocket event: %s", err)
		return
	}
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		if err := c.send(data); err != nil {
			h.Warnf("Error sending websocket event: %s", err)
		}
	}
}

func (h *Hub) handleMessage(c *client, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.Errorf("Cannot parse websocket message: %s", err)
		return
	}
	if msg.Subject != models.SubjectBuildLog {
		h.Errorf("Unknown websocket message received: %s", data)
		return
	}
	switch msg.Action {
	case models.ActionStart:
		if msg.Data == nil || msg.Data.BuildID == 0 {
			h.Errorf("Build log subscription without a build id")
			return
		}
		h.startLivelog(c, msg.Data.BuildID)
	case models.ActionStop:
		h.stopLivelog(c)
	default:
		h.Errorf("Unknown websocket message received: %s", data)
	}
}

// startLivelog replaces the running tailer of the client, if any.
func (h *Hub) startLivelog(c *client, buildID int64) {
	tailer := newBuildLogger(c, buildID, h.buildStore, h.workingDir, h.clk, h.Log)
	h.mu.Lock()
	if c.livelog != nil {
		c.livelog.stop()
	}
	c.livelog = tailer
	h.mu.Unlock()
	go tailer.run()
}

func (h *Hub) stopLivelog(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.livelog != nil {
		c.livelog.stop()
		c.livelog = nil
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if c.livelog != nil {
		c.livelog.stop()
		c.livelog = nil
	}
	delete(h.clients, c)
	remaining := len(h.clients)
	h.mu.Unlock()
	h.Debugf("Websocket client disconnected (%d remaining)", remaining)
}
