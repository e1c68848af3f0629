package device

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/miott/specrun/pkg/util"
)

// SSHConfig carries the credentials and host mapping for the SSH CLI adapter.
// Hosts maps device names to "host" or "host:port"; a device missing from the
// map dials its own name on port 22.
type SSHConfig struct {
	User     string
	Password string
	KeyFile  string
	Hosts    map[string]string
}

// SSHCLIAdapter executes cli actions over SSH exec sessions. It is
// deliberately minimal: one exec per request, no prompt emulation, configure
// payloads wrapped the way a terminal session would enter config mode.
// yang actions are not supported.
type SSHCLIAdapter struct {
	config SSHConfig
	auth   []ssh.AuthMethod

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// NewSSHCLIAdapter builds the adapter, loading the key file when given.
func NewSSHCLIAdapter(config SSHConfig) (*SSHCLIAdapter, error) {
	var auth []ssh.AuthMethod
	if config.KeyFile != "" {
		data, err := os.ReadFile(config.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key %s: %w", config.KeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parsing key %s: %w", config.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if config.Password != "" {
		auth = append(auth, ssh.Password(config.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh adapter needs a password or key file")
	}
	return &SSHCLIAdapter{
		config:  config,
		auth:    auth,
		clients: make(map[string]*ssh.Client),
	}, nil
}

// Execute implements Adapter.
func (a *SSHCLIAdapter) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req.Protocol != ProtocolCLI {
		return nil, util.NewDeviceError(req.Device, req.Operation,
			fmt.Errorf("ssh adapter only handles cli actions, got %s", req.Protocol))
	}

	client, err := a.client(req.Device)
	if err != nil {
		return nil, util.NewDeviceError(req.Device, "connect",
			fmt.Errorf("%w: %v", util.ErrDeviceUnavailable, err))
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, util.NewDeviceError(req.Device, "session", err)
	}
	defer session.Close()

	cmd := req.Payload
	if req.Operation == "configure" {
		cmd = configureWrap(req.Payload)
	}

	type execResult struct {
		out []byte
		err error
	}
	done := make(chan execResult, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- execResult{out, err}
	}()

	select {
	case <-ctx.Done():
		// Best effort; the exec goroutine ends when the session closes.
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, util.NewDeviceError(req.Device, req.Operation,
				fmt.Errorf("%s: %w", strings.TrimSpace(string(res.out)), res.err))
		}
		return &Response{Output: string(res.out)}, nil
	}
}

// client returns the cached SSH connection for a device, dialing on first use.
func (a *SSHCLIAdapter) client(device string) (*ssh.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.clients[device]; ok {
		return c, nil
	}

	addr := a.config.Hosts[device]
	if addr == "" {
		addr = device
	}
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}

	config := &ssh.ClientConfig{
		User: a.config.User,
		Auth: a.auth,
		// Host key checking is disabled for lab devices.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	a.clients[device] = client
	return client, nil
}

// Close implements Adapter, closing every cached connection.
func (a *SSHCLIAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var first error
	for name, c := range a.clients {
		if err := c.Close(); err != nil && first == nil {
			first = fmt.Errorf("closing %s: %w", name, err)
		}
		delete(a.clients, name)
	}
	return first
}

// configureWrap turns a block of config lines into a single exec the way a
// terminal session would apply it.
func configureWrap(payload string) string {
	lines := append([]string{"configure terminal"}, strings.Split(payload, "\n")...)
	lines = append(lines, "end")
	return strings.Join(lines, "\n")
}
