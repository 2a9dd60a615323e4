package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey or Redis-compatible server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

func (c *ValkeyConfig) normalise() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
}

// ValkeyProvider speaks RESP over a fresh connection per command. Response
// cache traffic is small and bursty so no pool is kept.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider validates cfg and pings the server so bad credentials fail at startup.
func NewValkeyProvider(ctx context.Context, cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	cfg.normalise()
	p := &ValkeyProvider{cfg: cfg}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("valkey ping %s: %w", cfg.Addr, err)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := p.do(ctx, []byte("GET"), []byte(key))
	if err != nil {
		return nil, err
	}
	if r.kind != kindBulk {
		return nil, fmt.Errorf("unexpected GET reply %q", r.kind)
	}
	if r.null {
		return nil, ErrCacheMiss
	}
	return r.bytes, nil
}

// Set stores bytes, expiring them after ttl when ttl is positive.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := [][]byte{[]byte("SET"), []byte(key), value}
	if ttl > 0 {
		args = append(args, []byte("PX"), []byte(strconv.FormatInt(ttl.Milliseconds(), 10)))
	}
	r, err := p.do(ctx, args...)
	if err != nil {
		return err
	}
	if r.kind != kindSimple || string(r.bytes) != "OK" {
		return fmt.Errorf("unexpected SET reply: %s", r.bytes)
	}
	return nil
}

// Del removes a key. Deleting an absent key is not an error.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, []byte("DEL"), []byte(key))
	return err
}

// Ping checks connectivity and credentials.
func (p *ValkeyProvider) Ping(ctx context.Context) error {
	r, err := p.do(ctx, []byte("PING"))
	if err != nil {
		return err
	}
	if r.kind != kindSimple || string(r.bytes) != "PONG" {
		return fmt.Errorf("unexpected PING reply: %s", r.bytes)
	}
	return nil
}

// Close is a no-op; connections are not held between commands.
func (p *ValkeyProvider) Close() error { return nil }

func (p *ValkeyProvider) do(ctx context.Context, args ...[]byte) (reply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return reply{}, ctx.Err()
			case <-time.After(backoff(attempt - 1)):
			}
		}
		r, err := p.roundTrip(ctx, args)
		if err == nil {
			return r, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return reply{}, lastErr
}

func (p *ValkeyProvider) roundTrip(ctx context.Context, args [][]byte) (reply, error) {
	if err := ctx.Err(); err != nil {
		return reply{}, err
	}
	conn, err := p.dial(ctx)
	if err != nil {
		return reply{}, err
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	if err := p.handshake(conn, rw); err != nil {
		return reply{}, err
	}
	return p.exchange(conn, rw, args)
}

func (p *ValkeyProvider) handshake(conn net.Conn, rw *bufio.ReadWriter) error {
	if p.cfg.Password != "" {
		args := [][]byte{[]byte("AUTH")}
		if p.cfg.Username != "" {
			args = append(args, []byte(p.cfg.Username))
		}
		args = append(args, []byte(p.cfg.Password))
		if _, err := p.exchange(conn, rw, args); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if _, err := p.exchange(conn, rw, [][]byte{[]byte("SELECT"), []byte(strconv.Itoa(p.cfg.DB))}); err != nil {
			return fmt.Errorf("select db %d: %w", p.cfg.DB, err)
		}
	}
	return nil
}

func (p *ValkeyProvider) exchange(conn net.Conn, rw *bufio.ReadWriter, args [][]byte) (reply, error) {
	if err := conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
		return reply{}, err
	}
	if err := writeCommand(rw.Writer, args...); err != nil {
		return reply{}, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return reply{}, err
	}
	return readReply(rw.Reader)
}

func (p *ValkeyProvider) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: p.cfg.DialTimeout}
	if !p.cfg.TLS {
		return dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	host, _, err := net.SplitHostPort(p.cfg.Addr)
	if err != nil {
		host = p.cfg.Addr
	}
	td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}}
	return td.DialContext(ctx, "tcp", p.cfg.Addr)
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 25 * time.Millisecond
}

func retryable(err error) bool {
	var se serverError
	if errors.As(err, &se) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
