// Package trust generates the single-use credential pair that binds a
// controller to the fleet it provisioned. The private half never leaves the
// controller process and the whole credential dies with the run.
package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ErrCryptoFailure marks key-generation failures. Non-retryable: the run
// aborts before any node exists.
var ErrCryptoFailure = errors.New("credential generation failed")

// Credential is a per-run ed25519 keypair. The public half is injected into
// every node; the private half is held by the controller's command runner
// only. It is never persisted and never logged.
type Credential struct {
	signer        ssh.Signer
	authorizedKey string
	fingerprint   string
}

// Generate creates a fresh credential from the system randomness source.
func Generate() (*Credential, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap private key: %v", ErrCryptoFailure, err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap public key: %v", ErrCryptoFailure, err)
	}

	return &Credential{
		signer:        signer,
		authorizedKey: strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))),
		fingerprint:   ssh.FingerprintSHA256(sshPub),
	}, nil
}

// AuthorizedKey returns the public half in OpenSSH authorized_keys format,
// suitable for injection into target nodes.
func (c *Credential) AuthorizedKey() string {
	return c.authorizedKey
}

// Signer returns the private half for the controller's management channel.
func (c *Credential) Signer() ssh.Signer {
	return c.signer
}

// Fingerprint returns the SHA256 public key fingerprint.
func (c *Credential) Fingerprint() string {
	return c.fingerprint
}

// String identifies the credential without revealing key material.
func (c *Credential) String() string {
	return "credential(" + c.fingerprint + ")"
}

// LogValue keeps the private key out of structured logs.
func (c *Credential) LogValue() slog.Value {
	return slog.StringValue(c.String())
}
