package db

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crt-reports-server/config"
	"crt-reports-server/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, nil), mr
}

func TestStore_SessionLifecycle(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sess := models.Session{Token: "tok-1", Username: "admin", Usertype: "coordinator", City: "Pune", Course: "B1"}
	require.NoError(t, s.SaveSession(ctx, sess, 0))

	got, err := s.GetSession(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "coordinator", got.Usertype)
	assert.Equal(t, "B1", got.Course)

	tokens, err := s.UserSessions(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-1"}, tokens)

	require.NoError(t, s.DeleteSession(ctx, "tok-1"))
	_, err = s.GetSession(ctx, "tok-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.DeleteSession(ctx, "tok-1"), ErrSessionNotFound)
}

func TestStore_SessionValidation(t *testing.T) {
	s, _ := newTestStore(t)
	assert.Error(t, s.SaveSession(context.Background(), models.Session{Username: "admin"}, 0))
}

func TestStore_SessionTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, models.Session{Token: "short", Username: "u"}, time.Minute))
	require.NoError(t, s.SaveSession(ctx, models.Session{Token: "forever", Username: "u"}, 0))

	mr.FastForward(2 * time.Minute)

	_, err := s.GetSession(ctx, "short")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.GetSession(ctx, "forever")
	assert.NoError(t, err)

	tokens, err := s.UserSessions(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"forever"}, tokens)
}

func TestStore_DeleteUserSessions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, models.Session{Token: "a", Username: "admin"}, 0))
	require.NoError(t, s.SaveSession(ctx, models.Session{Token: "b", Username: "admin"}, 0))
	require.NoError(t, s.SaveSession(ctx, models.Session{Token: "c", Username: "other"}, 0))

	n, err := s.DeleteUserSessions(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, tok := range []string{"a", "b"} {
		_, err := s.GetSession(ctx, tok)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	}
	_, err = s.GetSession(ctx, "c")
	assert.NoError(t, err)

	tokens, err := s.UserSessions(ctx, "admin")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestStore_Settings(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	st, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), st)

	want := models.Settings{CompanyName: "Apex", LogoURL: "https://apex.test/logo.png", ContactDetails: "hi@apex.test"}
	require.NoError(t, s.SaveSettings(ctx, want))
	st, err = s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, st)

	mr.Set(settingsKey, "{not json")
	st, err = s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), st)
}

func TestInitializeRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := InitializeRedisClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	client.Close()

	mr.Close()
	_, err = InitializeRedisClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	assert.Error(t, err)
}
