package modelfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/models"
	"github.com/wekabeka1996/AuroRA-sub000/internal/domain/repository"
	"github.com/wekabeka1996/AuroRA-sub000/pkg/logger"
)

// Client implements a ForecastStream over the model service's WebSocket
// endpoint. One client carries one or more profiles; frames are tagged with
// their profile and kind.
type Client struct {
	url            string
	token          string
	profiles       []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	conn      *websocket.Conn
	connected bool
}

// New creates a forecast stream client. Read must be called after Connect.
func New(url, token string, profiles []string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) repository.ForecastStream {
	if log == nil {
		log = logger.Nop()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		url:            url,
		token:          token,
		profiles:       profiles,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

// Connect dials the model service and subscribes to the configured profiles.
func (c *Client) Connect(ctx context.Context) error {
	u := c.url
	if c.token != "" {
		u = fmt.Sprintf("%s?token=%s", c.url, c.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("modelfeed connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	c.log.Info("modelfeed connected", logger.String("url", c.url))
	return c.subscribe()
}

func (c *Client) subscribe() error {
	for _, p := range c.profiles {
		msg := map[string]string{"type": "subscribe", "profile": p}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", p, err)
		}
		c.log.Info("modelfeed subscribed", logger.String("profile", p))
	}
	return nil
}

// feed frame kinds: "forecast" carries a model interval input, "outcome"
// carries delayed ground truth. Anything else is ignored.
type feedFrame struct {
	Type             string    `json:"type"`
	Profile          string    `json:"profile"`
	TsNs             int64     `json:"ts_ns"`
	Point            float64   `json:"point"`
	Sigma            float64   `json:"sigma"`
	RegimeTransition bool      `json:"regime_transition"`
	Confidence       []float64 `json:"confidence"`
	Observed         float64   `json:"observed"`
}

// Read streams observations, outcomes, and transport errors. The channels
// close when the read loop exits; a new Read follows a Reconnect.
func (c *Client) Read(ctx context.Context) (<-chan *models.Observation, <-chan *models.Outcome, <-chan error) {
	observations := make(chan *models.Observation, 1024)
	outcomes := make(chan *models.Outcome, 1024)
	errs := make(chan error, 1)

	conn := c.conn

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if conn != nil {
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(observations)
		defer close(outcomes)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			if conn == nil {
				errs <- fmt.Errorf("modelfeed conn nil")
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("modelfeed read: %w", err)
				return
			}

			var f feedFrame
			if err := json.Unmarshal(b, &f); err != nil {
				// ignore non-JSON frames
				continue
			}
			switch f.Type {
			case "forecast":
				obs := &models.Observation{
					Profile:          f.Profile,
					Timestamp:        time.Unix(0, f.TsNs),
					PointForecast:    f.Point,
					SigmaHat:         f.Sigma,
					RegimeTransition: f.RegimeTransition,
					ConfidenceDist:   f.Confidence,
				}
				select {
				case observations <- obs:
				default:
					// drop on backpressure; the calibrator sees the next cycle
				}
			case "outcome":
				out := &models.Outcome{
					Profile:   f.Profile,
					Timestamp: time.Unix(0, f.TsNs),
					Observed:  f.Observed,
				}
				select {
				case outcomes <- out:
				default:
				}
			}
		}
	}()

	return observations, outcomes, errs
}

// Reconnect closes the current connection, waits, and dials again.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	return c.Connect(ctx)
}

// Close closes the connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
