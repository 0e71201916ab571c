// Package websocket streams job progress to browsers and forwards it to an
// external broadcast endpoint.
package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"keyvex/internal/logging"
	"keyvex/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HubConfig controls origin checks for job sockets
type HubConfig struct {
	AllowedOrigins []string
	Production     bool
}

// Hub keeps the subscribers of each job and fans events out to them
type Hub struct {
	// Subscribed clients by job ID
	jobs map[string]map[*Client]bool

	broadcast  chan JobEvent
	register   chan *Client
	unregister chan *Client
	shutdown   chan struct{}
	done       chan struct{}
	stopOnce   sync.Once

	upgrader websocket.Upgrader
	mu       sync.RWMutex
}

// NewHub creates a hub. Call Run to start it.
func NewHub(cfg HubConfig) *Hub {
	h := &Hub{
		jobs:       make(map[string]map[*Client]bool),
		broadcast:  make(chan JobEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg),
	}
	return h
}

// originChecker allows configured origins. Without a list every origin is
// accepted outside production; an empty Origin header (non-browser clients)
// is accepted outside production only.
func originChecker(cfg HubConfig) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return !cfg.Production
		}
		if len(allowed) == 0 {
			return !cfg.Production
		}
		return allowed["*"] || allowed[origin]
	}
}

// Run is the hub's main loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.shutdown:
			h.mu.Lock()
			for _, clients := range h.jobs {
				for c := range clients {
					close(c.send)
					metrics.Get().RecordWebSocketConnection("job", -1)
				}
			}
			h.jobs = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			logging.L().Info("websocket hub shutdown complete")
			return

		case c := <-h.register:
			h.registerClient(c)

		case c := <-h.unregister:
			h.unregisterClient(c)

		case ev := <-h.broadcast:
			h.broadcastEvent(ev)
		}
	}
}

// Shutdown stops Run and closes every client
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.shutdown) })
	<-h.done
}

// Publish queues an event for the job's subscribers. It drops the event once
// the hub is shut down.
func (h *Hub) Publish(ev JobEvent) {
	select {
	case h.broadcast <- ev:
	case <-h.shutdown:
	}
}

// ConnectionCount returns the number of subscribers of a job
func (h *Hub) ConnectionCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.jobs[jobID])
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.jobs[c.jobID] == nil {
		h.jobs[c.jobID] = make(map[*Client]bool)
	}
	h.jobs[c.jobID][c] = true
	metrics.Get().RecordWebSocketConnection("job", 1)
	logging.L().Debug("job subscriber joined", zap.String("job_id", c.jobID), zap.Int("subscribers", len(h.jobs[c.jobID])))
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked must be called with the lock held
func (h *Hub) removeLocked(c *Client) {
	clients, ok := h.jobs[c.jobID]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.jobs, c.jobID)
	}
	metrics.Get().RecordWebSocketConnection("job", -1)
}

func (h *Hub) broadcastEvent(ev JobEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.L().Error("failed to marshal job event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.jobs[ev.JobID] {
		select {
		case c.send <- data:
			metrics.Get().RecordWebSocketMessage(string(ev.Type), "out")
		default:
			// slow consumer
			logging.L().Warn("dropping slow job subscriber", zap.String("job_id", ev.JobID))
			h.removeLocked(c)
		}
	}
}

// HandleJobSocket upgrades GET /ws/jobs/:jobId
func (h *Hub) HandleJobSocket(c *gin.Context) {
	jobID := c.Param("jobId")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "jobId is required", "code": "INVALID_REQUEST"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.L().Warn("websocket upgrade failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	client := newClient(h, conn, jobID)
	select {
	case h.register <- client:
	case <-h.shutdown:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
