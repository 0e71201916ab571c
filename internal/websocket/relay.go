package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"keyvex/internal/logging"
	"keyvex/internal/metrics"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// relayFrame is the message shape expected by API Gateway style broadcast
// routes.
type relayFrame struct {
	Action string   `json:"action"`
	JobID  string   `json:"jobId"`
	Data   JobEvent `json:"data"`
}

// RelayConfig controls the outbound relay
type RelayConfig struct {
	URL        string
	QueueSize  int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Relay forwards job events to an external websocket endpoint, reconnecting
// with exponential backoff. Events published while the queue is full are
// dropped.
type Relay struct {
	url        string
	dialer     *websocket.Dialer
	queue      chan JobEvent
	minBackoff time.Duration
	maxBackoff time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

var errRelayStopped = errors.New("relay stopped")

// NewRelay creates a relay; call Start to connect.
func NewRelay(cfg RelayConfig) *Relay {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Relay{
		url:        cfg.URL,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		queue:      make(chan JobEvent, cfg.QueueSize),
		minBackoff: cfg.MinBackoff,
		maxBackoff: cfg.MaxBackoff,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Publish enqueues an event without blocking
func (r *Relay) Publish(ev JobEvent) {
	select {
	case r.queue <- ev:
	default:
		logging.L().Warn("relay queue full, dropping event", zap.String("job_id", ev.JobID), zap.String("type", string(ev.Type)))
	}
}

// Start runs the connection loop until ctx is done or Close is called.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	go r.run(ctx)
}

// Close stops the relay and waits for the connection loop to exit
func (r *Relay) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.done
	}
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)
	log := logging.L().With(zap.String("relay_url", r.url))
	backoff := r.minBackoff
	var pending *relayFrame

	for {
		conn, _, err := r.dialer.DialContext(ctx, r.url, nil)
		if err != nil {
			log.Warn("relay dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-r.stop:
				timer.Stop()
				return
			case <-timer.C:
			}
			backoff *= 2
			if backoff > r.maxBackoff {
				backoff = r.maxBackoff
			}
			continue
		}

		log.Info("relay connected")
		metrics.Get().RecordWebSocketConnection("relay", 1)
		backoff = r.minBackoff
		err = r.pump(ctx, conn, &pending)
		conn.Close()
		metrics.Get().RecordWebSocketConnection("relay", -1)
		if errors.Is(err, errRelayStopped) {
			return
		}
		log.Warn("relay connection lost", zap.Error(err))
	}
}

// pump writes queued frames until the connection fails or the relay stops.
// A frame whose write failed is kept in pending and sent after reconnecting.
func (r *Relay) pump(ctx context.Context, conn *websocket.Conn, pending **relayFrame) error {
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	send := func(f *relayFrame) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(f); err != nil {
			*pending = f
			return err
		}
		*pending = nil
		metrics.Get().RecordWebSocketMessage(string(f.Data.Type), "relay")
		return nil
	}

	if *pending != nil {
		if err := send(*pending); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			r.closeGracefully(conn)
			return errRelayStopped
		case <-r.stop:
			r.drain(send)
			r.closeGracefully(conn)
			return errRelayStopped
		case err := <-readErr:
			return err
		case ev := <-r.queue:
			if err := send(&relayFrame{Action: "broadcast", JobID: ev.JobID, Data: ev}); err != nil {
				return err
			}
		}
	}
}

// drain flushes whatever is already queued on shutdown
func (r *Relay) drain(send func(*relayFrame) error) {
	for {
		select {
		case ev := <-r.queue:
			if err := send(&relayFrame{Action: "broadcast", JobID: ev.JobID, Data: ev}); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (r *Relay) closeGracefully(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
