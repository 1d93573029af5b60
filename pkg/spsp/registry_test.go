package spsp_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	store "github.com/openmonetize/receipt-verifier/pkg/redis"
	"github.com/openmonetize/receipt-verifier/pkg/spsp"
)

func newTestRegistry(t *testing.T) (*spsp.Registry, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := store.NewClientFromRedis(rdb, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = client.Close() })

	return spsp.NewRegistry(client, zaptest.NewLogger(t)), mr
}

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		name    string
		pointer string
		want    string
		wantErr bool
	}{
		{name: "shorthand with path", pointer: "$wallet.example/alice", want: "https://wallet.example/alice"},
		{name: "shorthand bare host", pointer: "$wallet.example", want: "https://wallet.example/.well-known/pay"},
		{name: "full url untouched", pointer: "https://wallet.example/alice", want: "https://wallet.example/alice"},
		{name: "http allowed", pointer: "http://localhost:8080/pay", want: "http://localhost:8080/pay"},
		{name: "no scheme", pointer: "wallet.example/alice", wantErr: true},
		{name: "bad scheme", pointer: "ftp://wallet.example", wantErr: true},
		{name: "empty", pointer: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := spsp.CanonicalURL(tt.pointer)
			if tt.wantErr {
				require.ErrorIs(t, err, spsp.ErrInvalidPointer)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPointerHash(t *testing.T) {
	h1 := spsp.PointerHash("$wallet.example/alice")
	h2 := spsp.PointerHash("$wallet.example/alice")
	h3 := spsp.PointerHash("$wallet.example/bob")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestCreateIsIdempotent(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	h1, err := registry.Create(ctx, "$wallet.example/alice")
	require.NoError(t, err)

	h2, err := registry.Create(ctx, "$wallet.example/alice")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	url, err := registry.Lookup(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, "https://wallet.example/alice", url)
}

func TestCreateInvalidPointer(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.Create(context.Background(), "not a pointer")
	require.ErrorIs(t, err, spsp.ErrInvalidPointer)
}

func TestLookupMiss(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.Lookup(context.Background(), "deadbeef")
	require.ErrorIs(t, err, spsp.ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	hash, err := registry.Create(ctx, "$wallet.example/alice")
	require.NoError(t, err)

	require.NoError(t, registry.Delete(ctx, hash))
	require.NoError(t, registry.Delete(ctx, hash))

	_, err = registry.Lookup(ctx, hash)
	require.ErrorIs(t, err, spsp.ErrNotFound)
}
