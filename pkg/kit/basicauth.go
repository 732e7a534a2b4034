package kit

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth is a static single-credential gate for admin routes.
type BasicAuth struct {
	realm string
	user  []byte
	hash  []byte
}

// NewBasicAuth accepts either a plain password, hashed here once, or a
// precomputed bcrypt hash. It returns nil when no credential is configured,
// which disables the gate.
func NewBasicAuth(realm, user, password, passwordHash string) (*BasicAuth, error) {
	if user == "" || (password == "" && passwordHash == "") {
		return nil, nil
	}

	hash := []byte(passwordHash)
	if passwordHash == "" {
		h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		hash = h
	} else if _, err := bcrypt.Cost(hash); err != nil {
		return nil, errors.New("admin password hash is not a bcrypt hash")
	}

	if realm == "" {
		realm = "admin"
	}
	return &BasicAuth{realm: realm, user: []byte(user), hash: hash}, nil
}

func (a *BasicAuth) Verify(user, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), a.user) == 1
	passOK := bcrypt.CompareHashAndPassword(a.hash, []byte(password)) == nil
	return userOK && passOK
}

func (a *BasicAuth) Middleware(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !a.Verify(user, pass) {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", a.realm))
			WriteError(w, r, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
