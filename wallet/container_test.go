package wallet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threefoldtech/walletcore/valuetree"
)

func TestIsEmptyBeforeAndAfterLogin(t *testing.T) {
	c, _ := newTestContainer()
	require.True(t, c.IsEmpty())

	require.NoError(t, c.Login(context.Background(), "a@x", "alice", "pw", "chainA"))
	require.False(t, c.IsEmpty())
}

func TestKeepLocalCopyIsIdempotentAndSilent(t *testing.T) {
	c, s := newTestContainer()
	var notified int
	c.Subscribe(func(*Container) error { notified++; return nil })

	require.NoError(t, c.KeepLocalCopy(true))
	require.NoError(t, c.KeepLocalCopy(true))
	require.True(t, s.SaveToDisk())
	require.Equal(t, 0, notified)
}

func TestUnsubscribeUnknownHandleIsNonFatal(t *testing.T) {
	c, _ := newTestContainer()
	id := c.Subscribe(func(*Container) error { return nil })
	require.NoError(t, c.Unsubscribe(id))
	require.ErrorIs(t, c.Unsubscribe(id), ErrUnknownSubscriber)
}

func TestSetStateLockedBeforeLogin(t *testing.T) {
	c, _ := newTestContainer()
	err := c.SetState(context.Background(), valuetree.EmptyObject().WithField("k", valuetree.NumberValue(1)))
	require.ErrorIs(t, err, ErrLocked)
}

func TestSetStateNotInitializedWithoutCreatedField(t *testing.T) {
	c, _ := newTestContainer()
	// Simulate an unlocked container whose wallet object was never
	// initialized via Login (the only way NotInitialized can occur, §7).
	key, err := c.crypto.PrivateKeyFromSeed("seed")
	require.NoError(t, err)
	c.privateKey = key

	err = c.SetState(context.Background(), valuetree.EmptyObject().WithField("k", valuetree.NumberValue(1)))
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestSetStateNoOpWhenUnchanged(t *testing.T) {
	c, _ := newTestContainer()
	require.NoError(t, c.Login(context.Background(), "a@x", "alice", "pw", "chainA"))

	patch := valuetree.EmptyObject().WithField("k", valuetree.NumberValue(1))
	require.NoError(t, c.SetState(context.Background(), patch))

	var notified int
	c.Subscribe(func(*Container) error { notified++; return nil })

	// Same patch again: merged tree is unchanged, so this must be a no-op —
	// no notification, no last_modified bump (invariant 4).
	before, err := c.GetState(context.Background())
	require.NoError(t, err)
	lastModBefore, _ := before.Field("last_modified")

	require.NoError(t, c.SetState(context.Background(), patch))
	require.Equal(t, 0, notified)

	after, err := c.GetState(context.Background())
	require.NoError(t, err)
	lastModAfter, _ := after.Field("last_modified")
	require.True(t, valuetree.Equal(lastModBefore, lastModAfter))
}

func TestSetStateDeepMerge(t *testing.T) {
	c, _ := newTestContainer()
	require.NoError(t, c.Login(context.Background(), "a@x", "alice", "pw", "chainA"))

	require.NoError(t, c.SetState(context.Background(), valuetree.EmptyObject().WithField(
		"nested", valuetree.EmptyObject().WithField("x", valuetree.NumberValue(1)).WithField("y", valuetree.NumberValue(2)),
	)))
	require.NoError(t, c.SetState(context.Background(), valuetree.EmptyObject().WithField(
		"nested", valuetree.EmptyObject().WithField("y", valuetree.NumberValue(99)),
	)))

	state, err := c.GetState(context.Background())
	require.NoError(t, err)
	nested, ok := state.Field("nested")
	require.True(t, ok)
	x, _ := nested.Field("x")
	xv, _ := x.Number()
	require.Equal(t, float64(1), xv)
	y, _ := nested.Field("y")
	yv, _ := y.Number()
	require.Equal(t, float64(99), yv)
}

func TestDeleteFieldRemovesNestedPath(t *testing.T) {
	c, _ := newTestContainer()
	require.NoError(t, c.Login(context.Background(), "a@x", "alice", "pw", "chainA"))
	require.NoError(t, c.SetState(context.Background(), valuetree.EmptyObject().WithField(
		"nested", valuetree.EmptyObject().WithField("secret", valuetree.StringValue("x")),
	)))

	require.NoError(t, c.DeleteField(context.Background(), "nested.secret"))

	state, err := c.GetState(context.Background())
	require.NoError(t, err)
	nested, _ := state.Field("nested")
	_, ok := nested.Field("secret")
	require.False(t, ok)
}

func TestDeleteFieldLockedBeforeLogin(t *testing.T) {
	c, _ := newTestContainer()
	err := c.DeleteField(context.Background(), "k")
	require.ErrorIs(t, err, ErrLocked)
}

func TestKeepRemoteCopyRequiresRemoteURL(t *testing.T) {
	c, _ := newTestContainer()
	err := c.KeepRemoteCopy(context.Background(), true)
	var walletErr *Error
	require.ErrorAs(t, err, &walletErr)
	require.Equal(t, KindConfigurationError, walletErr.Kind)
}
