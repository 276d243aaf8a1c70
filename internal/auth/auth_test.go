package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcules/homeprice/internal/activity"
	"github.com/mcules/homeprice/internal/history"
	"github.com/mcules/homeprice/internal/logx"
)

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]history.APIKeyRecord
	used map[string]int
}

func newMemoryKeys() *memoryKeys {
	return &memoryKeys{keys: map[string]history.APIKeyRecord{}, used: map[string]int{}}
}

func (m *memoryKeys) CreateAPIKey(_ context.Context, r history.APIKeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[r.ID] = r
	return nil
}

func (m *memoryKeys) GetAPIKey(_ context.Context, id string) (history.APIKeyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.keys[id]
	return r, ok, nil
}

func (m *memoryKeys) UpdateAPIKeyLastUsed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used[id]++
	return nil
}

func (m *memoryKeys) usedCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used[id]
}

func newTestAuth() (*Authenticator, *memoryKeys, *activity.Log) {
	store := newMemoryKeys()
	act := activity.New(10)
	a := NewAuthenticator(store, logx.Discard(), act)
	a.Cost = bcrypt.MinCost
	return a, store, act
}

func TestGenerateAndVerify(t *testing.T) {
	a, _, _ := newTestAuth()
	ctx := context.Background()

	key, rec, err := a.GenerateKey(ctx, "frontend")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "hp_"+rec.ID+"."))
	assert.True(t, strings.HasPrefix(key, rec.Prefix))
	assert.NotContains(t, rec.HashedSecret, key[len("hp_")+len(rec.ID)+1:])

	got, err := a.Verify(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = a.Verify(ctx, key+"x")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = a.Verify(ctx, "hp_unknown.secret")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = a.Verify(ctx, "garbage")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestMiddleware(t *testing.T) {
	a, store, act := newTestAuth()
	key, rec, err := a.GenerateKey(context.Background(), "cli")
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := a.Middleware(next)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"bad format", "Token " + key, http.StatusUnauthorized},
		{"wrong key", "Bearer hp_" + rec.ID + ".nope", http.StatusUnauthorized},
		{"ok", "Bearer " + key, http.StatusNoContent},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/predict", nil)
			if c.header != "" {
				req.Header.Set("Authorization", c.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, c.want, rr.Code)
		})
	}

	assert.Eventually(t, func() bool { return store.usedCount(rec.ID) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, act.List(), 3)
}

func TestAuthenticate(t *testing.T) {
	a, store, _ := newTestAuth()
	ctx := context.Background()
	key, rec, err := a.GenerateKey(ctx, "grpc")
	require.NoError(t, err)

	_, err = a.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrMissingKey)
	_, err = a.Authenticate(ctx, key)
	assert.ErrorIs(t, err, ErrMalformedHeader)
	_, err = a.Authenticate(ctx, "bearer hp_x.y")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.True(t, IsRejected(err))

	got, err := a.Authenticate(ctx, "Bearer "+key)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Eventually(t, func() bool { return store.usedCount(rec.ID) == 1 }, time.Second, 5*time.Millisecond)
}
