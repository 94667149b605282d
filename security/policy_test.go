package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func signingKey(b byte) []byte { return fill(32, b) }
func encryptKey(b byte) []byte { return fill(32, b) }
func nonceBytes(b byte) []byte { return fill(12, b) }

func fill(n int, b byte) []byte {
	k := make([]byte, n)
	for i := range k {
		k[i] = b
	}
	return k
}

func TestAESGCMPolicyRoundTrip(t *testing.T) {
	policy := NewAESGCMPolicy()
	ctx := &PolicyContext{}

	require.NoError(t, ctx.SetKeys(policy, KeySet{
		TokenID:       1,
		SigningKey:    signingKey(1),
		EncryptingKey: encryptKey(2),
		Nonce:         nonceBytes(3),
	}))

	plaintext := []byte("dataset message payload")
	ciphertext, err := policy.Encrypt(ctx, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	decoded, err := policy.VerifyAndDecrypt(ctx, ModeSignAndEncrypt, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decoded)
}

func TestSetKeysResetsNonceSequenceOnTokenChange(t *testing.T) {
	policy := NewAESGCMPolicy()
	ctx := &PolicyContext{}

	require.NoError(t, ctx.SetKeys(policy, KeySet{TokenID: 1, SigningKey: signingKey(1), EncryptingKey: encryptKey(2), Nonce: nonceBytes(3)}))
	_, err := policy.Encrypt(ctx, []byte("a"))
	require.NoError(t, err)
	_, err = policy.Encrypt(ctx, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, uint32(3), ctx.NonceSequence())

	require.NoError(t, ctx.SetKeys(policy, KeySet{TokenID: 2, SigningKey: signingKey(4), EncryptingKey: encryptKey(5), Nonce: nonceBytes(6)}))
	require.Equal(t, uint32(1), ctx.NonceSequence())
	require.Equal(t, uint32(2), ctx.TokenID())
}

func TestSetKeysPreservesContextIdentityAcrossRollover(t *testing.T) {
	policy := NewAESGCMPolicy()
	ctx := &PolicyContext{}

	require.NoError(t, ctx.SetKeys(policy, KeySet{TokenID: 1, SigningKey: signingKey(1), EncryptingKey: encryptKey(2), Nonce: nonceBytes(3)}))
	before := ctx

	require.NoError(t, ctx.SetKeys(policy, KeySet{TokenID: 2, SigningKey: signingKey(4), EncryptingKey: encryptKey(5), Nonce: nonceBytes(6)}))
	require.Same(t, before, ctx)
}

func TestVerifyAndDecryptModeNonePassesThrough(t *testing.T) {
	policy := NewAESGCMPolicy()
	ctx := &PolicyContext{}

	frame := []byte("unencrypted frame")
	out, err := policy.VerifyAndDecrypt(ctx, ModeNone, frame)
	require.NoError(t, err)
	require.Equal(t, frame, out)
}
