// Package security issues and verifies per-node authentication tokens. It is
// independent of scheduling and may be left out entirely in deployments that
// trust their network.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quantive/grid/grid"
)

// DefaultTokenLifetime is how long an issued token stays valid.
const DefaultTokenLifetime = 24 * time.Hour

// Manager signs node tokens with a process-wide secret.
// Token format: nodeId|unixTimestamp|hex(hmac-sha256(secret, nodeId|unixTimestamp)).
type Manager struct {
	secret   []byte
	lifetime time.Duration

	// now is swappable for expiry tests.
	now func() time.Time
}

func NewManager(secret []byte, lifetime time.Duration) (*Manager, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token secret cannot be empty")
	}
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	return &Manager{secret: secret, lifetime: lifetime, now: time.Now}, nil
}

// IssueToken returns a fresh token for the node.
func (m *Manager) IssueToken(id grid.NodeId) string {
	ts := strconv.FormatInt(m.now().Unix(), 10)
	return fmt.Sprintf("%s|%s|%s", id, ts, m.sign(string(id), ts))
}

// VerifyToken recomputes the signature and compares in constant time,
// rejecting malformed, mismatched, and expired tokens.
func (m *Manager) VerifyToken(id grid.NodeId, token string) bool {
	parts := strings.Split(token, "|")
	if len(parts) != 3 {
		return false
	}
	tokenId, ts, sig := parts[0], parts[1], parts[2]
	if tokenId != string(id) {
		return false
	}
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if m.now().Sub(time.Unix(issued, 0)) > m.lifetime {
		return false
	}
	expected := m.sign(tokenId, ts)
	return hmac.Equal([]byte(sig), []byte(expected))
}

func (m *Manager) sign(id, ts string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(id + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
