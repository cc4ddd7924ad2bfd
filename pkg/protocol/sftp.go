package protocol

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/time/rate"

	"github.com/cuemby/forager/pkg/credentials"
	"github.com/cuemby/forager/pkg/log"
)

// SFTPConfig configures an SFTPManager. Connection credentials (host,
// username, password, port) come from the provider under ConfigName.
type SFTPConfig struct {
	Provider   credentials.Provider
	ConfigName string

	ConnectTimeout time.Duration
	RateLimitRPS   float64

	// Gates are evaluated in order before every operation.
	Gates []Gate

	// InsecureIgnoreHostKey disables strict host-key verification.
	// Only set when explicitly configured.
	InsecureIgnoreHostKey bool

	// HostKeyCallback overrides verification when strict checking is
	// wanted; required unless InsecureIgnoreHostKey is set.
	HostKeyCallback ssh.HostKeyCallback
}

// SFTPManager holds one authenticated SFTP session, created lazily on
// first use. The session is single-threaded: every operation is
// serialized through the manager mutex.
type SFTPManager struct {
	cfg     SFTPConfig
	limiter *rate.Limiter

	mu      sync.Mutex
	sshConn *ssh.Client
	client  *sftp.Client
	closed  bool
}

// NewSFTPManager creates an SFTP manager from config.
func NewSFTPManager(cfg SFTPConfig) *SFTPManager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	m := &SFTPManager{cfg: cfg}
	if cfg.RateLimitRPS > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}
	return m
}

// connection returns the cached session, dialing on first use.
// Caller must hold m.mu.
func (m *SFTPManager) connection(ctx context.Context) (*sftp.Client, error) {
	if m.closed {
		return nil, fmt.Errorf("sftp manager is closed")
	}
	if m.client != nil {
		return m.client, nil
	}

	host, err := m.cfg.Provider.GetCredential(ctx, m.cfg.ConfigName, "host")
	if err != nil {
		return nil, err
	}
	username, err := m.cfg.Provider.GetCredential(ctx, m.cfg.ConfigName, "username")
	if err != nil {
		return nil, err
	}
	password, err := m.cfg.Provider.GetCredential(ctx, m.cfg.ConfigName, "password")
	if err != nil {
		return nil, err
	}
	port := 22
	if p, err := m.cfg.Provider.GetCredential(ctx, m.cfg.ConfigName, "port"); err == nil {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			port = n
		}
	}

	hostKeyCallback := m.cfg.HostKeyCallback
	if m.cfg.InsecureIgnoreHostKey {
		hostKeyCallback = ssh.InsecureIgnoreHostKey() // #nosec G106 -- explicit opt-in
	}
	if hostKeyCallback == nil {
		return nil, fmt.Errorf("host key verification required: set HostKeyCallback or InsecureIgnoreHostKey")
	}

	sshCfg := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         m.cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	log.WithComponent("sftp").Info().Str("addr", addr).Msg("connecting")

	sshConn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	client, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, fmt.Errorf("failed to open sftp session: %w", err)
	}

	m.sshConn = sshConn
	m.client = client
	return client, nil
}

// request runs gates and the rate limit, then executes op under the
// session mutex.
func (m *SFTPManager) request(ctx context.Context, op func(*sftp.Client) error) error {
	for _, g := range m.cfg.Gates {
		if err := g.Wait(ctx); err != nil {
			return err
		}
	}
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.connection(ctx)
	if err != nil {
		return err
	}
	return op(client)
}

// ListDir lists the entries of a remote directory.
func (m *SFTPManager) ListDir(ctx context.Context, path string) ([]fs.FileInfo, error) {
	var infos []fs.FileInfo
	err := m.request(ctx, func(c *sftp.Client) error {
		var err error
		infos, err = c.ReadDir(path)
		return err
	})
	return infos, err
}

// Stat returns file info for a remote path.
func (m *SFTPManager) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	var info fs.FileInfo
	err := m.request(ctx, func(c *sftp.Client) error {
		var err error
		info, err = c.Stat(path)
		return err
	})
	return info, err
}

// Open opens a remote file for reading. Reads on the returned stream
// are serialized through the session mutex.
func (m *SFTPManager) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	var f *sftp.File
	err := m.request(ctx, func(c *sftp.Client) error {
		var err error
		f, err = c.Open(path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &sessionFile{mu: &m.mu, f: f}, nil
}

// RecordSuccess notifies all gates that a gated execution completed.
func (m *SFTPManager) RecordSuccess(ctx context.Context) {
	for _, g := range m.cfg.Gates {
		g.RecordSuccess(ctx)
	}
}

// Close releases the session. Idempotent.
func (m *SFTPManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if m.client != nil {
		err = m.client.Close()
		m.client = nil
	}
	if m.sshConn != nil {
		if cerr := m.sshConn.Close(); err == nil {
			err = cerr
		}
		m.sshConn = nil
	}
	return err
}

// sessionFile serializes reads on a shared single-threaded session.
type sessionFile struct {
	mu *sync.Mutex
	f  *sftp.File
}

func (s *sessionFile) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Read(p)
}

func (s *sessionFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
