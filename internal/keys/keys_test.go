package keys

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/whisperline/whisperline/internal/crypto"
	"github.com/whisperline/whisperline/internal/store"
	"github.com/whisperline/whisperline/internal/store/memory"
	"go.uber.org/zap/zaptest"
)

func TestDeriveMasterKeyRoundTrip(t *testing.T) {
	first, err := DeriveMasterKey("hunter2hunter2", nil)
	require.NoError(t, err)
	require.Len(t, first.Key, crypto.KeySize)
	require.Len(t, first.Salt, crypto.SaltSize)

	// a returning user with the stored salt reconstitutes the identical key
	again, err := DeriveMasterKey("hunter2hunter2", first.Salt)
	require.NoError(t, err)
	require.Equal(t, first.Key, again.Key)

	other, err := DeriveMasterKey("wrong password", first.Salt)
	require.NoError(t, err)
	require.NotEqual(t, first.Key, other.Key)
}

func TestDeriveMasterKeyValidation(t *testing.T) {
	_, err := DeriveMasterKey("", nil)
	require.ErrorIs(t, err, ErrEmptyPassword)

	_, err = DeriveMasterKey("password", []byte("short"))
	require.ErrorIs(t, err, ErrInvalidSalt)
}

func TestGenerateKeyPairFingerprint(t *testing.T) {
	pair, err := GenerateKeyPair()
	require.NoError(t, err)
	require.Len(t, pair.Private, crypto.KeySize)
	require.NotEmpty(t, pair.KeyID)

	// public half is a deterministic one-way function of the private half
	require.Equal(t, pair.Public, Fingerprint(pair.Private))
	require.Equal(t, pair.KeyID, KeyIdentifier(pair.Public))

	other, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotEqual(t, pair.Private, other.Private)
	require.NotEqual(t, pair.KeyID, other.KeyID)
}

func TestWrapUnwrapPerParticipant(t *testing.T) {
	convKey, err := GenerateConversationKey()
	require.NoError(t, err)

	alice, err := DeriveMasterKey("alice-password", nil)
	require.NoError(t, err)
	bob, err := DeriveMasterKey("bob-password", nil)
	require.NoError(t, err)

	wrappedA, err := WrapConversationKey(convKey, alice)
	require.NoError(t, err)
	wrappedB, err := WrapConversationKey(convKey, bob)
	require.NoError(t, err)
	require.NotEqual(t, wrappedA.Ciphertext, wrappedB.Ciphertext)

	gotA, err := UnwrapConversationKey(wrappedA, alice)
	require.NoError(t, err)
	gotB, err := UnwrapConversationKey(wrappedB, bob)
	require.NoError(t, err)
	require.True(t, bytes.Equal(gotA, convKey))
	require.True(t, bytes.Equal(gotB, convKey))

	// bob cannot open alice's record
	_, err = UnwrapConversationKey(wrappedA, bob)
	require.ErrorIs(t, err, crypto.ErrCipher)
}

func TestWrapRejectsBadKey(t *testing.T) {
	master, err := DeriveMasterKey("some-password", nil)
	require.NoError(t, err)

	_, err = WrapConversationKey([]byte("too short"), master)
	require.ErrorIs(t, err, crypto.ErrInvalidKeySize)
}

func TestProvisionerEstablishAndRecover(t *testing.T) {
	ctx := context.Background()
	ks := memory.NewKeyStore()
	prov := NewProvisioner(zaptest.NewLogger(t), ks)

	alice, err := DeriveMasterKey("alice-password", nil)
	require.NoError(t, err)
	bob, err := DeriveMasterKey("bob-password", nil)
	require.NoError(t, err)

	keyID, err := prov.Establish(ctx, "conv-1", map[string]MasterKey{
		"alice": alice,
		"bob":   bob,
	})
	require.NoError(t, err)
	require.NotEmpty(t, keyID)

	// every participant unwraps the same key from their own record
	keyA, idA, err := prov.ConversationKey(ctx, "conv-1", "alice", alice)
	require.NoError(t, err)
	keyB, idB, err := prov.ConversationKey(ctx, "conv-1", "bob", bob)
	require.NoError(t, err)
	require.Equal(t, keyA, keyB)
	require.Equal(t, keyID, idA)
	require.Equal(t, keyID, idB)

	// wrong master key fails closed
	_, _, err = prov.ConversationKey(ctx, "conv-1", "alice", bob)
	require.ErrorIs(t, err, crypto.ErrCipher)

	// exactly one record per (conversation, participant)
	recA, err := ks.ConversationKey(ctx, "conv-1", "alice")
	require.NoError(t, err)
	require.Equal(t, keyID, recA.KeyID)
	_, err = ks.ConversationKey(ctx, "conv-1", "carol")
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func TestProvisionerValidation(t *testing.T) {
	prov := NewProvisioner(zaptest.NewLogger(t), memory.NewKeyStore())

	_, err := prov.Establish(context.Background(), "", map[string]MasterKey{})
	require.Error(t, err)

	_, err = prov.Establish(context.Background(), "conv-1", nil)
	require.Error(t, err)
}
