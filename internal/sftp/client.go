// Package sftp transfers files over an established SSH connection.
package sftp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("sftp client is closed")

// Client opens the SFTP subsystem lazily on first use and reuses it.
type Client struct {
	mu     sync.Mutex
	open   func() (*sftp.Client, error)
	client *sftp.Client
	closed bool
}

// NewClient returns a Client bound to conn.
func NewClient(conn *ssh.Client) *Client {
	return &Client{open: func() (*sftp.Client, error) {
		if conn == nil {
			return nil, fmt.Errorf("ssh connection is nil")
		}
		return sftp.NewClient(conn)
	}}
}

func (c *Client) ensure() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.client != nil {
		return c.client, nil
	}
	client, err := c.open()
	if err != nil {
		return nil, fmt.Errorf("create sftp client: %w", err)
	}
	c.client = client
	return client, nil
}

// Close releases the subsystem. Calling it twice is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// Stat returns file info for a remote path.
func (c *Client) Stat(remotePath string) (os.FileInfo, error) {
	client, err := c.ensure()
	if err != nil {
		return nil, err
	}
	info, err := client.Stat(remotePath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", remotePath, err)
	}
	return info, nil
}

// Put streams r into remotePath, creating parent directories, and applies
// perm when it is non-zero. It returns the number of bytes written.
func (c *Client) Put(r io.Reader, remotePath string, perm os.FileMode) (int64, error) {
	client, err := c.ensure()
	if err != nil {
		return 0, err
	}

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := client.MkdirAll(dir); err != nil {
			return 0, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	f, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", remotePath, err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return n, fmt.Errorf("write %s: %w", remotePath, err)
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", remotePath, err)
	}

	if perm != 0 {
		if err := client.Chmod(remotePath, perm); err != nil {
			return n, fmt.Errorf("chmod %s: %w", remotePath, err)
		}
	}
	return n, nil
}

// Get streams remotePath into w and returns the number of bytes copied.
func (c *Client) Get(remotePath string, w io.Writer) (int64, error) {
	client, err := c.ensure()
	if err != nil {
		return 0, err
	}

	f, err := client.Open(remotePath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", remotePath, err)
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("read %s: %w", remotePath, err)
	}
	return n, nil
}
