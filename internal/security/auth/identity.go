package auth

import (
	"net/http"
	"strings"
)

// Trusted forwarding headers set by the gateway after verification
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserName  = "X-User-Name"
	HeaderUserEmail = "X-User-Email"
	HeaderAssertion = "X-Identity-Assertion"
)

var identityHeaders = []string{HeaderUserID, HeaderUserName, HeaderUserEmail, HeaderAssertion}

// Identity is the (userId, name, email) triple forwarded to downstream services
type Identity struct {
	UserID string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// StripHeaders removes any identity headers a client tried to supply itself
func StripHeaders(h http.Header) {
	for _, name := range identityHeaders {
		h.Del(name)
	}
}

// SetHeaders writes the identity into h, replacing previous values
func (id Identity) SetHeaders(h http.Header) {
	h.Set(HeaderUserID, id.UserID)
	h.Set(HeaderUserName, id.Name)
	h.Set(HeaderUserEmail, id.Email)
}

// IdentityFromHeaders reads the forwarded identity. ok is false without a user id.
func IdentityFromHeaders(h http.Header) (Identity, bool) {
	id := Identity{
		UserID: strings.TrimSpace(h.Get(HeaderUserID)),
		Name:   h.Get(HeaderUserName),
		Email:  h.Get(HeaderUserEmail),
	}
	return id, id.UserID != ""
}
