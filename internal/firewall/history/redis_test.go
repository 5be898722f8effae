package history

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return &RedisStore{Client: client}, mr
}

func TestRedisStoreAppendTrims(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	start := time.UnixMilli(1_767_225_600_000)

	for i := 0; i < 3; i++ {
		got, err := s.Append(ctx, "r:1", start.Add(time.Duration(i)*time.Hour), Retention)
		assert.NoError(err)
		assert.Len(got, i+1)
	}

	// identical timestamps are kept as separate entries
	got, err := s.Append(ctx, "r:1", start.Add(2*time.Hour), Retention)
	assert.NoError(err)
	assert.Len(got, 4)

	got, err = s.Append(ctx, "r:1", start.Add(25*time.Hour), Retention)
	assert.NoError(err)
	assert.Equal([]time.Time{
		start.Add(1 * time.Hour),
		start.Add(2 * time.Hour),
		start.Add(2 * time.Hour),
		start.Add(25 * time.Hour),
	}, got)

	assert.True(mr.Exists("fwhist:r:1"))
	assert.Equal(Retention, mr.TTL("fwhist:r:1"))
}

func TestRedisStorePruneBefore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, _ := newTestRedisStore(t)
	now := time.UnixMilli(1_767_225_600_000)

	_, err := s.Append(ctx, "r:2", now.Add(-10*time.Minute), Retention)
	assert.NoError(err)
	_, err = s.Append(ctx, "r:2", now, Retention)
	assert.NoError(err)

	assert.NoError(s.PruneBefore(ctx, "r:2", now.Add(-time.Minute)))
	got, err := s.Append(ctx, "r:2", now.Add(time.Second), Retention)
	assert.NoError(err)
	assert.Equal([]time.Time{now, now.Add(time.Second)}, got)
}

func TestNewRedisStoreConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	_, err := NewRedisStore("redis://"+mr.Addr()+"/0", "wrong")
	assert.Error(t, err)

	s, err := NewRedisStore("redis://"+mr.Addr()+"/0", "s3cret")
	if assert.NoError(t, err) {
		assert.NoError(t, s.Close())
	}

	_, err = NewRedisStore("not a url", "")
	assert.Error(t, err)
}
