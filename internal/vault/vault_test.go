package vault

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New(testKey(t))
	require.NoError(t, err)

	cases := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("api-key-1234567890"),
		make([]byte, 0),
	}
	for _, pt := range cases {
		ct, err := v.Encrypt(pt)
		require.NoError(t, err)
		got, err := v.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, pt, got)
	}
}

func TestCiphertextFormat(t *testing.T) {
	v, err := New(testKey(t))
	require.NoError(t, err)

	ct, err := v.Encrypt([]byte("secret"))
	require.NoError(t, err)
	assert.Contains(t, ct, "v1.chacha20poly1305.0.")
}

func TestDecryptRejectsUnrecognizedFormat(t *testing.T) {
	v, err := New(testKey(t))
	require.NoError(t, err)

	_, err = v.Decrypt("not-a-ciphertext")
	assert.Error(t, err)

	_, err = v.Decrypt("v2.chacha20poly1305.0.a.b.c")
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	v, err := New(testKey(t))
	require.NoError(t, err)

	ct, err := v.Encrypt([]byte("payload"))
	require.NoError(t, err)

	tampered := ct[:len(ct)-1] + "x"
	_, err = v.Decrypt(tampered)
	assert.Error(t, err)
}

func TestCredentialsRoundTrip(t *testing.T) {
	v, err := New(testKey(t))
	require.NoError(t, err)

	creds := Credentials{APIKey: "key", Secret: "sec", Passphrase: "pp"}
	apiCT, secCT, ppCT, err := v.EncryptCredentials(creds)
	require.NoError(t, err)

	got, err := v.DecryptCredentials(apiCT, secCT, ppCT)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestCredentialsWithoutPassphrase(t *testing.T) {
	v, err := New(testKey(t))
	require.NoError(t, err)

	creds := Credentials{APIKey: "key", Secret: "sec"}
	apiCT, secCT, ppCT, err := v.EncryptCredentials(creds)
	require.NoError(t, err)
	assert.Empty(t, ppCT)

	got, err := v.DecryptCredentials(apiCT, secCT, ppCT)
	require.NoError(t, err)
	assert.Empty(t, got.Passphrase)
}

func TestKeyEpochRotation(t *testing.T) {
	oldKey := testKey(t)
	v, err := New(oldKey)
	require.NoError(t, err)

	ct, err := v.Encrypt([]byte("under epoch 0"))
	require.NoError(t, err)

	newKey := testKey(t)
	v2, err := New(newKey)
	require.NoError(t, err)
	require.NoError(t, v2.AddEpoch(0, oldKey))
	v2.activeEpoch = 1
	v2.keys[1] = newKey

	got, err := v2.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "under epoch 0", string(got))

	newCT, err := v2.Encrypt([]byte("under epoch 1"))
	require.NoError(t, err)
	assert.Contains(t, newCT, ".1.")
}
