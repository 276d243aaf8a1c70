package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcules/homeprice/internal/activity"
	"github.com/mcules/homeprice/internal/history"
)

const keyPrefix = "hp_"

var (
	ErrInvalidKey      = errors.New("invalid API key")
	ErrMissingKey      = errors.New("missing Authorization header")
	ErrMalformedHeader = errors.New("invalid Authorization header format")
)

// IsRejected reports whether err is a credential failure, as opposed to a store error.
func IsRejected(err error) bool {
	return errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrMissingKey) || errors.Is(err, ErrMalformedHeader)
}

// KeyStore is the subset of the history store the authenticator needs.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, record history.APIKeyRecord) error
	GetAPIKey(ctx context.Context, id string) (history.APIKeyRecord, bool, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
}

type Authenticator struct {
	Store    KeyStore
	Log      *logrus.Logger
	Activity *activity.Log

	// Cost is the bcrypt cost for new keys. Zero means bcrypt.DefaultCost.
	Cost int
}

func NewAuthenticator(store KeyStore, log *logrus.Logger, act *activity.Log) *Authenticator {
	return &Authenticator{Store: store, Log: log, Activity: act}
}

// GenerateKey creates a new API key and stores its bcrypt hash. The plaintext key is
// returned once and cannot be recovered later. Key format: hp_<id>.<secret>.
func (a *Authenticator) GenerateKey(ctx context.Context, name string) (string, history.APIKeyRecord, error) {
	idRaw := make([]byte, 6)
	secretRaw := make([]byte, 24)
	if _, err := rand.Read(idRaw); err != nil {
		return "", history.APIKeyRecord{}, err
	}
	if _, err := rand.Read(secretRaw); err != nil {
		return "", history.APIKeyRecord{}, err
	}
	id := hex.EncodeToString(idRaw)
	secret := hex.EncodeToString(secretRaw)
	key := keyPrefix + id + "." + secret

	cost := a.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", history.APIKeyRecord{}, err
	}

	record := history.APIKeyRecord{
		ID:           id,
		Name:         name,
		Prefix:       key[:len(keyPrefix)+4],
		HashedSecret: string(hashed),
		CreatedAt:    time.Now(),
	}

	if err := a.Store.CreateAPIKey(ctx, record); err != nil {
		return "", history.APIKeyRecord{}, err
	}

	return key, record, nil
}

func splitKey(key string) (id, secret string, ok bool) {
	if !strings.HasPrefix(key, keyPrefix) {
		return "", "", false
	}
	id, secret, ok = strings.Cut(key[len(keyPrefix):], ".")
	if !ok || id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}

// Verify checks a plaintext key and returns its record.
func (a *Authenticator) Verify(ctx context.Context, key string) (history.APIKeyRecord, error) {
	id, secret, ok := splitKey(key)
	if !ok {
		return history.APIKeyRecord{}, ErrInvalidKey
	}
	rec, found, err := a.Store.GetAPIKey(ctx, id)
	if err != nil {
		return history.APIKeyRecord{}, err
	}
	if !found {
		return history.APIKeyRecord{}, ErrInvalidKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.HashedSecret), []byte(secret)); err != nil {
		return history.APIKeyRecord{}, ErrInvalidKey
	}
	return rec, nil
}

// Authenticate checks a "Bearer <key>" credential and, on success, updates the key's
// last-used time in the background. HTTP and gRPC share it.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (history.APIKeyRecord, error) {
	if header == "" {
		return history.APIKeyRecord{}, ErrMissingKey
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return history.APIKeyRecord{}, ErrMalformedHeader
	}

	rec, err := a.Verify(ctx, parts[1])
	if err != nil {
		return history.APIKeyRecord{}, err
	}

	go func(id string) {
		if err := a.Store.UpdateAPIKeyLastUsed(context.Background(), id); err != nil {
			a.Log.WithError(err).WithField("key_id", id).Warn("auth: update last used")
		}
	}(rec.ID)
	return rec, nil
}

// RecordRejection adds an api_key_rejected event. source is the route or RPC method.
func (a *Authenticator) RecordRejection(source string, err error) {
	a.Activity.Add(activity.Event{Type: activity.EventAPIKeyRejected, Source: source, Note: err.Error()})
}

// Middleware checks the Authorization header.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
		switch {
		case IsRejected(err):
			a.RecordRejection(r.URL.Path, err)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		case err != nil:
			a.Log.WithError(err).Error("auth: key lookup failed")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
