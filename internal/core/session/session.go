// Package session defines the signed-in identity and the tags used to
// detect responses that outlived the identity they were requested under.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSubject is returned when a session token carries no usable subject.
var ErrNoSubject = errors.New("session token has no subject")

// Identity is the signed-in user. The zero value means signed out.
type Identity struct {
	UserID string `json:"userId"`
	Token  string `json:"-"` // bearer credential, never logged
}

// IsZero reports whether the identity is signed out.
func (i Identity) IsZero() bool {
	return i.UserID == ""
}

// Same reports whether both identities refer to the same user.
func (i Identity) Same(other Identity) bool {
	return i.UserID == other.UserID
}

func (i Identity) String() string {
	if i.IsZero() {
		return "<signed-out>"
	}
	return i.UserID
}

// Ticket is stamped on every outgoing request. A response whose ticket no
// longer matches the current one must be discarded.
//
//   - UserID and Epoch change on every identity reset.
//   - Gen is the optimistic mutation generation at issue time. Results issued
//     before the latest optimistic mutation are superseded for counter purposes.
//   - Seq is the number of pushed inserts seen at issue time. Items pushed
//     later cannot appear in the result and must survive it.
type Ticket struct {
	UserID string
	Epoch  uint64
	Gen    uint64
	Seq    uint64
}

// SameSession reports whether both tickets were issued under the same
// identity lifecycle.
func (t Ticket) SameSession(other Ticket) bool {
	return t.UserID == other.UserID && t.Epoch == other.Epoch
}

func (t Ticket) String() string {
	return fmt.Sprintf("%s#%d.%d.%d", t.UserID, t.Epoch, t.Gen, t.Seq)
}

// FromToken derives an identity from a session JWT. The signature is not
// verified here; the server owns verification and rejects bad tokens.
func FromToken(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Identity{}, ErrNoSubject
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("parse session token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return Identity{}, fmt.Errorf("read subject: %w", err)
	}
	if sub == "" {
		// Some issuers put the user id in a custom claim.
		if uid, ok := claims["user_id"].(string); ok {
			sub = uid
		}
	}
	if sub == "" {
		return Identity{}, ErrNoSubject
	}

	return Identity{UserID: sub, Token: token}, nil
}

// Credentials supplies the bearer credential for outgoing requests.
type Credentials interface {
	Token() string
}

// Holder tracks the current identity and serves as the credential source for
// the fetch layer and push transport.
type Holder struct {
	current atomic.Pointer[Identity]
}

// NewHolder creates a signed-out holder.
func NewHolder() *Holder {
	h := &Holder{}
	h.current.Store(&Identity{})
	return h
}

// Set replaces the current identity.
func (h *Holder) Set(id Identity) {
	h.current.Store(&id)
}

// Current returns the current identity.
func (h *Holder) Current() Identity {
	return *h.current.Load()
}

// Token implements Credentials.
func (h *Holder) Token() string {
	return h.current.Load().Token
}

// StaticToken is a fixed credential.
type StaticToken string

// Token implements Credentials.
func (s StaticToken) Token() string { return string(s) }
