package mqtt

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Client struct {
	cli mqtt.Client
}

// Publisher is the part of the client the background announcer needs.
type Publisher interface {
	PublishWith(topic string, payload []byte, retain bool) error
}

func brokerServer(brokerURL string) (string, error) {
	raw := strings.TrimSpace(brokerURL)
	if !strings.Contains(raw, "://") {
		raw = "mqtt://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse broker url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("broker url %q has no host", brokerURL)
	}
	switch u.Scheme {
	case "mqtt", "tcp":
		return "tcp://" + u.Host, nil
	case "ssl", "tls", "mqtts":
		return "ssl://" + u.Host, nil
	case "ws", "wss":
		return u.Scheme + "://" + u.Host + u.Path, nil
	default:
		return "", fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}

// Connect dials the broker and waits up to 15s for the first connection.
func Connect(brokerURL string) (*Client, error) {
	server, err := brokerServer(brokerURL)
	if err != nil {
		return nil, err
	}
	u, _ := url.Parse(server)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(server)
	opts.SetClientID("weatherview-" + time.Now().Format("150405.000"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) { slog.Info("mqtt connected", "broker", server) }
	opts.OnConnectionLost = func(_ mqtt.Client, err error) { slog.Warn("mqtt connection lost", "error", err) }

	if orig, err := url.Parse(brokerURL); err == nil && orig.User != nil {
		pw, _ := orig.User.Password()
		opts.SetUsername(orig.User.Username())
		opts.SetPassword(pw)
	}
	if u != nil && (u.Scheme == "ssl" || u.Scheme == "wss") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	cli := mqtt.NewClient(opts)
	tok := cli.Connect()
	if !tok.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", server)
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return &Client{cli: cli}, nil
}

func (c *Client) PublishWith(topic string, payload []byte, retain bool) error {
	t := c.cli.Publish(topic, 1, retain, payload)
	if !t.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return t.Error()
}

func (c *Client) Close() {
	if c == nil || c.cli == nil {
		return
	}
	c.cli.Disconnect(1000)
}
