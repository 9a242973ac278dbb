package wsserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemBackendGetMissing(t *testing.T) {
	b := NewMemBackend()
	_, ok, err := b.Get([]byte("pub"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemBackendCreateThenGet(t *testing.T) {
	b := NewMemBackend()
	pub := []byte("pub-1")
	require.NoError(t, b.Create(pub, Record{Ciphertext: []byte("ct"), Hash: []byte("h1")}))

	rec, ok, err := b.Get(pub)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("ct"), rec.Ciphertext)
	require.NotEmpty(t, rec.Created)
	require.Equal(t, rec.Created, rec.Updated)
}

func TestMemBackendCreateRejectsDuplicate(t *testing.T) {
	b := NewMemBackend()
	pub := []byte("pub-2")
	require.NoError(t, b.Create(pub, Record{Hash: []byte("h1")}))
	require.Error(t, b.Create(pub, Record{Hash: []byte("h2")}))
}

func TestMemBackendCompareAndSwap(t *testing.T) {
	b := NewMemBackend()
	pub := []byte("pub-3")
	require.NoError(t, b.Create(pub, Record{Ciphertext: []byte("v1"), Hash: []byte("h1")}))

	ok, current, err := b.CompareAndSwap(pub, []byte("wrong"), Record{Ciphertext: []byte("v2"), Hash: []byte("h2")})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []byte("h1"), current.Hash)

	ok, current, err = b.CompareAndSwap(pub, []byte("h1"), Record{Ciphertext: []byte("v2"), Hash: []byte("h2")})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("h2"), current.Hash)

	rec, _, _ := b.Get(pub)
	require.Equal(t, []byte("v2"), rec.Ciphertext)
}

func TestMemBackendCompareAndSwapMissingRecord(t *testing.T) {
	b := NewMemBackend()
	ok, _, err := b.CompareAndSwap([]byte("ghost"), []byte("h1"), Record{Hash: []byte("h2")})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemBackendDelete(t *testing.T) {
	b := NewMemBackend()
	pub := []byte("pub-4")
	require.NoError(t, b.Create(pub, Record{Hash: []byte("h1")}))
	require.NoError(t, b.Delete(pub))

	_, ok, err := b.Get(pub)
	require.NoError(t, err)
	require.False(t, ok)
}
