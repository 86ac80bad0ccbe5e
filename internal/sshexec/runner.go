// Package sshexec is the management channel: it runs commands on fleet nodes
// over SSH, authenticated either with the run's ephemeral credential or a key
// file from an inventory entry.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"fleetrun/internal/fleet"
)

const defaultDialTimeout = 5 * time.Second

// Result is the outcome of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a command on a node and reports its output. Implementations
// must be safe for concurrent use across nodes.
type Runner interface {
	Run(ctx context.Context, node fleet.Node, cmd string) (Result, error)
}

// Client is the SSH-backed Runner used against real fleets.
type Client struct {
	// Signer authenticates with the run credential when the node has no
	// key path of its own.
	Signer ssh.Signer

	// DialTimeout bounds the TCP connect. Zero means 5s.
	DialTimeout time.Duration
}

var _ Runner = (*Client)(nil)

// Run opens a session on the node and executes cmd through its interpreter.
// A non-zero remote exit status is reported in Result, not as an error;
// errors mean the channel itself failed.
func (c *Client) Run(ctx context.Context, node fleet.Node, cmd string) (Result, error) {
	auth, err := c.authFor(node)
	if err != nil {
		return Result{}, err
	}
	timeout, err := c.dialTimeoutFor(node)
	if err != nil {
		return Result{}, err
	}

	user := node.User
	if user == "" {
		user = "root"
	}
	cfg := &ssh.ClientConfig{
		User: user,
		Auth: auth,
		// Nodes are single-run ephemeral on an isolated segment; their
		// host keys are generated after we already hold the only
		// credential that can log in.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	conn, err := dialContext(ctx, node.DialAddr(), cfg)
	if err != nil {
		return Result{}, fmt.Errorf("dial %s: %w", node.DialAddr(), err)
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("open session on %s: %w", node.ID, err)
	}
	defer session.Close()

	interpreter := node.Interpreter
	if interpreter == "" {
		interpreter = "/bin/sh"
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	session.Stdin = strings.NewReader(cmd)

	err = session.Run(interpreter + " -s")
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, fmt.Errorf("run on %s: %w", node.ID, err)
	}
	return res, nil
}

func (c *Client) authFor(node fleet.Node) ([]ssh.AuthMethod, error) {
	if strings.TrimSpace(node.KeyPath) != "" {
		raw, err := os.ReadFile(node.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read key for %s: %w", node.ID, err)
		}
		signer, err := ssh.ParsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse key for %s: %w", node.ID, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if c.Signer == nil {
		return nil, fmt.Errorf("no credential for node %s", node.ID)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(c.Signer)}, nil
}

// OptionConnectTimeout is the inventory connection option bounding this
// node's TCP connect, overriding the client-wide DialTimeout.
const OptionConnectTimeout = "connect_timeout"

func (c *Client) dialTimeoutFor(node fleet.Node) (time.Duration, error) {
	if raw := node.Options[OptionConnectTimeout]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("node %s: option %s: %w", node.ID, OptionConnectTimeout, err)
		}
		if d <= 0 {
			return 0, fmt.Errorf("node %s: option %s must be positive, got %s", node.ID, OptionConnectTimeout, d)
		}
		return d, nil
	}
	if c.DialTimeout > 0 {
		return c.DialTimeout, nil
	}
	return defaultDialTimeout, nil
}

// dialContext is ssh.Dial with context cancellation on the TCP stage.
func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	conn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	return ssh.NewClient(conn, chans, reqs), nil
}
