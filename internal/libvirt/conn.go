package libvirt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// ErrNotConfigured is returned when no libvirt URI was given to the agent.
var ErrNotConfigured = errors.New("libvirt uri not configured")

// ConnManager owns the optional libvirt RPC connection used for the memory
// fallback and the health loop. Snapshot callers use one dial attempt; only
// Reconnect waits and retries.
type ConnManager struct {
	mu        sync.RWMutex
	client    *golibvirt.Libvirt
	uri       string
	logger    *slog.Logger
	retryWait time.Duration
	maxJitter time.Duration
	randSrc   *rand.Rand
}

func NewConnManager(uri string, retryWait, maxJitter time.Duration, logger *slog.Logger) *ConnManager {
	if retryWait <= 0 {
		retryWait = 3 * time.Second
	}
	if maxJitter < 0 {
		maxJitter = 0
	}
	return &ConnManager{
		uri:       uri,
		logger:    logger,
		retryWait: retryWait,
		maxJitter: maxJitter,
		randSrc:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *ConnManager) Configured() bool {
	return m != nil && m.uri != ""
}

// Client returns the live connection, dialing once if there is none.
func (m *ConnManager) Client(ctx context.Context) (*golibvirt.Libvirt, error) {
	if !m.Configured() {
		return nil, ErrNotConfigured
	}
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.connectLocked(ctx, false); err != nil {
		return nil, err
	}
	return m.client, nil
}

// Reconnect drops the current connection and dials until it succeeds or ctx ends.
func (m *ConnManager) Reconnect(ctx context.Context) error {
	if !m.Configured() {
		return ErrNotConfigured
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		if err := m.client.Disconnect(); err != nil {
			m.logger.Warn("libvirt disconnect failed", "error", err)
		}
		m.client = nil
	}
	return m.connectLocked(ctx, true)
}

func (m *ConnManager) Healthy(ctx context.Context) error {
	c, err := m.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := c.Version(); err != nil {
		return fmt.Errorf("libvirt version check failed: %w", err)
	}
	return nil
}

func (m *ConnManager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect()
	m.client = nil
	return err
}

func (m *ConnManager) connectLocked(ctx context.Context, retry bool) error {
	if m.client != nil {
		if _, err := m.client.Version(); err == nil {
			return nil
		}
		_ = m.client.Disconnect()
		m.client = nil
	}

	uri, err := m.parseURI()
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c, dialErr := golibvirt.ConnectToURI(uri)
		if dialErr == nil {
			m.client = c
			m.logger.Info("libvirt connected", "uri", uri.Redacted())
			return nil
		}
		if !retry {
			return fmt.Errorf("connect %s: %w", uri.Redacted(), dialErr)
		}

		wait := m.retryWait + m.jitter()
		m.logger.Error("libvirt connect failed", "uri", uri.Redacted(), "error", dialErr, "retry_in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (m *ConnManager) parseURI() (*url.URL, error) {
	uri, err := url.Parse(m.uri)
	if err != nil {
		return nil, fmt.Errorf("parse libvirt uri %q: %w", m.uri, err)
	}
	if uri.Scheme == "" {
		return nil, fmt.Errorf("libvirt uri %q has no scheme", m.uri)
	}
	return uri, nil
}

func (m *ConnManager) jitter() time.Duration {
	if m.maxJitter == 0 {
		return 0
	}
	return time.Duration(m.randSrc.Int63n(int64(m.maxJitter)))
}
