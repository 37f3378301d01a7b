package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ListenerConfig describes how a device subscribes to change notifications
type ListenerConfig struct {
	BaseURL  func() string // http(s) base URL of the API server
	Token    string
	DeviceID string
	MaxDelay time.Duration // reconnect delay cap
}

// WSURL turns an http(s) base URL into the /ws endpoint
func WSURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// Listen keeps a socket to the server open until ctx ends and calls onChange
// whenever another device's scan is accepted. Notifications are only a hint
// to poll early, so dropped connections are simply redialed.
func Listen(ctx context.Context, cfg ListenerConfig, onChange func(), logger logrus.FieldLogger) {
	log := logger.WithField("component", "ws-listener")

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = cfg.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = 30 * time.Second
	}

	for {
		connected, err := listenOnce(ctx, cfg, onChange)
		if ctx.Err() != nil {
			return
		}
		if connected {
			b.Reset()
		}
		delay := b.NextBackOff()
		log.WithError(err).WithField("retry_in", delay).Debug("WS connection lost")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func listenOnce(ctx context.Context, cfg ListenerConfig, onChange func()) (bool, error) {
	target, err := WSURL(cfg.BaseURL())
	if err != nil {
		return false, err
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	if cfg.DeviceID != "" {
		header.Set("X-Device-ID", cfg.DeviceID)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// Unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	hello, _ := json.Marshal(Message{Type: TypeIdentify, DeviceID: cfg.DeviceID})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return true, err
	}

	// A reconnect may have missed notifications
	onChange()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == TypeScanAccepted && msg.DeviceID != cfg.DeviceID {
			onChange()
		}
	}
}
