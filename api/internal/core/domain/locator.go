package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Locator is everything a recipient needs to open a secret: the id and, for
// secrets without a password, the generated key. The key travels only in the
// URL fragment, which browsers never send to a server.
type Locator struct {
	ID  string `json:"id"`
	Key string `json:"key,omitempty"`
}

// PasswordProtected reports whether the recipient must supply a password.
func (l Locator) PasswordProtected() bool {
	return l.Key == ""
}

// URL renders https://<host>/secret/<id>/ with an optional #<key> fragment.
func (l Locator) URL(baseURL string) string {
	u := strings.TrimRight(baseURL, "/") + "/secret/" + l.ID + "/"
	if l.Key != "" {
		u += "#" + l.Key
	}
	return u
}

// ParseLocator accepts a full share URL, "<id>#<key>" or a bare id.
func ParseLocator(raw string) (Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Locator{}, NewValidationError("locator", "locator is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Locator{}, NewValidationError("locator", "malformed locator")
	}

	// Older share links put the trailing slash after the fragment: /secret/<id>#<key>/
	key := strings.TrimSuffix(u.Fragment, "/")

	var id string
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg == "secret" && i+1 < len(segments) {
			id = segments[i+1]
			break
		}
	}
	if id == "" && u.Scheme == "" && len(segments) == 1 {
		id = segments[0]
	}

	if !IsValidSecretID(id) {
		return Locator{}, NewValidationError("locator", fmt.Sprintf("invalid secret id %q", id))
	}
	return Locator{ID: id, Key: key}, nil
}
