package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/o1egl/paseto"
	"github.com/rotisserie/eris"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/Simplici0/retrofit-costing/internal/store"
)

const sessionCookieName = "costing_session"

var errExpired = eris.New("token has expired")

type userLookup interface {
	UserByEmail(ctx context.Context, email string) (store.User, error)
}

type authService struct {
	users  userLookup
	paseto *paseto.V2
	key    []byte
	ttl    time.Duration
	now    func() time.Time
}

type tokenPayload struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiredAt time.Time `json:"expired_at"`
}

// newAuthService builds the cookie signer. An empty key gets a random one,
// so sessions do not outlive the process.
func newAuthService(users userLookup, sessionKey string, ttl time.Duration) (*authService, error) {
	key := []byte(sessionKey)
	if len(key) == 0 {
		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, eris.Wrap(err, "generate session key")
		}
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, eris.Errorf("invalid key size: must be exactly %d characters", chacha20poly1305.KeySize)
	}
	return &authService{users: users, paseto: paseto.NewV2(), key: key, ttl: ttl, now: time.Now}, nil
}

func (a *authService) validateCredentials(ctx context.Context, email, password string) (bool, error) {
	user, err := a.users.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "query user credentials")
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "compare password hash")
	}
	return true, nil
}

func (a *authService) createSessionValue(email string) (string, error) {
	if email == "" {
		return "", eris.New("email cannot be empty")
	}
	issued := a.now()
	payload := tokenPayload{ID: uuid.New(), Email: email, IssuedAt: issued, ExpiredAt: issued.Add(a.ttl)}
	token, err := a.paseto.Encrypt(a.key, payload, nil)
	if err != nil {
		return "", eris.Wrap(err, "encrypt token")
	}
	return token, nil
}

func (a *authService) verifySessionValue(value string) (string, error) {
	var payload tokenPayload
	if err := a.paseto.Decrypt(value, a.key, &payload, nil); err != nil {
		return "", eris.Wrap(err, "invalid token")
	}
	if a.now().After(payload.ExpiredAt) {
		return "", errExpired
	}
	if payload.Email == "" {
		return "", eris.New("invalid token: empty subject")
	}
	return payload.Email, nil
}

func (a *authService) setSessionCookie(w http.ResponseWriter, email string) error {
	value, err := a.createSessionValue(email)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(a.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (a *authService) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

type ctxKey int

const userKey ctxKey = iota

func withUser(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userKey, email)
}

func currentUser(r *http.Request) string {
	email, _ := r.Context().Value(userKey).(string)
	return email
}

func (a *authService) authenticate(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", false
	}
	email, err := a.verifySessionValue(cookie.Value)
	if err != nil {
		return "", false
	}
	return email, true
}
