package memtransport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threefoldtech/walletcore/transport"
)

func TestFetchWalletNoContentWhenUnknown(t *testing.T) {
	srv := NewServer()
	client := Dial(srv)
	defer client.Close()

	var got transport.ServerWallet
	err := client.FetchWallet(context.Background(), []byte("pub"), nil, func(sw transport.ServerWallet) {
		got = sw
	})
	require.NoError(t, err)
	require.Equal(t, transport.StatusNoContent, got.StatusText)
}

func TestCreateThenFetchReturnsOK(t *testing.T) {
	srv := NewServer()
	pub := []byte("pub-1")
	token := srv.IssueToken(pub)

	client := Dial(srv)
	defer client.Close()

	res, err := client.CreateWallet(context.Background(), token, []byte("ciphertext"), []byte("sig"))
	require.NoError(t, err)
	require.NotEmpty(t, res.LocalHash)

	// a second client fetching cold should see the created record
	other := Dial(srv)
	defer other.Close()
	var got transport.ServerWallet
	require.NoError(t, other.FetchWallet(context.Background(), pub, nil, func(sw transport.ServerWallet) { got = sw }))
	require.Equal(t, transport.StatusOK, got.StatusText)
	require.Equal(t, []byte("ciphertext"), got.EncryptedData)
}

func TestCreateWalletRejectsUnknownToken(t *testing.T) {
	srv := NewServer()
	client := Dial(srv)
	defer client.Close()
	_, err := client.CreateWallet(context.Background(), "bogus-token", []byte("x"), []byte("sig"))
	require.Error(t, err)
}

func TestSaveWalletConflictOnStaleHash(t *testing.T) {
	srv := NewServer()
	pub := []byte("pub-2")
	token := srv.IssueToken(pub)
	client := Dial(srv)
	defer client.Close()

	_, err := client.CreateWallet(context.Background(), token, []byte("v1"), []byte("sig"))
	require.NoError(t, err)
	// binds client.pub to the subscription so SaveWallet knows which record to touch
	require.NoError(t, client.FetchWallet(context.Background(), pub, nil, func(transport.ServerWallet) {}))

	res, err := client.SaveWallet(context.Background(), []byte("wrong-prev-hash"), []byte("v2"), []byte("sig"))
	require.NoError(t, err)
	require.Equal(t, transport.StatusConflict, res.StatusText)
}

func TestDeleteWalletClearsRecord(t *testing.T) {
	srv := NewServer()
	pub := []byte("pub-3")
	token := srv.IssueToken(pub)
	client := Dial(srv)
	defer client.Close()
	_, err := client.CreateWallet(context.Background(), token, []byte("v1"), []byte("sig"))
	require.NoError(t, err)
	require.NoError(t, client.FetchWallet(context.Background(), pub, nil, func(transport.ServerWallet) {}))

	require.NoError(t, client.DeleteWallet(context.Background(), []byte("h"), []byte("sig")))

	var got transport.ServerWallet
	require.NoError(t, client.FetchWallet(context.Background(), pub, nil, func(sw transport.ServerWallet) { got = sw }))
	require.Equal(t, transport.StatusNoContent, got.StatusText)
}
