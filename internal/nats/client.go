// Package nats provides the optional control plane: remote ledger edits,
// on-demand verification and publication of verification reports.
package nats

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/telemetry-agent/internal/config"
	"go.uber.org/zap"
)

// Client owns the control plane connection
type Client struct {
	conn   *nats.Conn
	logger *zap.Logger
	closed chan struct{}
}

// NewClient dials the configured servers. The connection keeps retrying
// in the background when no server is reachable at startup.
func NewClient(cfg *config.ControlConfig, logger *zap.Logger) (*Client, error) {
	c := &Client{
		logger: logger,
		closed: make(chan struct{}),
	}

	opts, err := connectOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		nats.DrainTimeout(cfg.DrainTimeout),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("Control connection closed")
			close(c.closed)
		}),
	)

	logger.Info("Connecting control plane", zap.Strings("urls", cfg.URLs))
	conn, err := nats.Connect(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	c.conn = conn

	if conn.IsConnected() {
		logger.Info("Control plane connected",
			zap.String("url", conn.ConnectedUrl()),
			zap.String("server_id", conn.ConnectedServerId()))
	} else {
		logger.Warn("Control plane unreachable, retrying in background")
	}

	return c, nil
}

// connectOptions builds the connection options shared by every client
func connectOptions(cfg *config.ControlConfig, logger *zap.Logger) ([]nats.Option, error) {
	opts := []nats.Option{
		nats.Name("telemetry-agent"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("Control connection lost", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Control connection restored", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			logger.Error("Control connection error", fields...)
		}),
	}

	auth, err := authOption(cfg.Auth)
	if err != nil {
		return nil, err
	}
	if auth != nil {
		opts = append(opts, auth)
	}
	logger.Info("Control plane auth", zap.String("type", cfg.Auth.Type))

	if cfg.TLS.Enabled {
		tlsConfig, err := createTLSConfig(&cfg.TLS, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	return opts, nil
}

// authOption maps the auth type to its option. "none" yields nil.
func authOption(auth config.AuthConfig) (nats.Option, error) {
	switch auth.Type {
	case "creds":
		return nats.UserCredentials(auth.CredsFile), nil
	case "token":
		return nats.Token(auth.Token), nil
	case "userpass":
		return nats.UserInfo(auth.Username, auth.Password), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid auth type: %s", auth.Type)
	}
}

// createTLSConfig loads the optional CA bundle and client key pair
func createTLSConfig(cfg *config.TLSConfig, logger *zap.Logger) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("Control plane TLS verification disabled")
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("no certificates found in CA file")
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		pair, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{pair}
	}

	logger.Info("Control plane TLS enabled",
		zap.Bool("custom_ca", tlsConfig.RootCAs != nil),
		zap.Bool("client_cert", len(tlsConfig.Certificates) > 0))

	return tlsConfig, nil
}

// Publish sends data on subject without waiting for acknowledgement
func (c *Client) Publish(subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	c.logger.Debug("Published", zap.String("subject", subject), zap.Int("bytes", len(data)))
	return nil
}

// Subscribe registers handler for subject
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.logger.Debug("Subscribed", zap.String("subject", subject))
	return sub, nil
}

// Drain lets in-flight commands finish, then closes the connection.
// The connection is closed outright once timeout elapses.
func (c *Client) Drain(timeout time.Duration) error {
	if c.conn.IsClosed() {
		return nil
	}

	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to drain control connection: %w", err)
	}

	select {
	case <-c.closed:
		return nil
	case <-time.After(timeout):
		c.conn.Close()
		return fmt.Errorf("drain timeout after %v", timeout)
	}
}

// Close closes the connection immediately
func (c *Client) Close() {
	c.conn.Close()
}

// IsConnected reports whether the connection is currently up
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}
