package certificates

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer(testSecret)
	require.NoError(t, err)

	env, err := s.Seal([]byte("private key material"))
	require.NoError(t, err)
	assert.NotEqual(t, "private key material", env.Ciphertext)

	iv, _ := base64.StdEncoding.DecodeString(env.IV)
	tag, _ := base64.StdEncoding.DecodeString(env.Tag)
	assert.Len(t, iv, 12)
	assert.Len(t, tag, 16)

	plain, err := s.Open(env)
	require.NoError(t, err)
	assert.Equal(t, "private key material", string(plain))

	again, err := s.Seal([]byte("private key material"))
	require.NoError(t, err)
	assert.NotEqual(t, env.IV, again.IV)
}

func TestSealerFailsClosed(t *testing.T) {
	s, err := NewSealer(testSecret)
	require.NoError(t, err)
	env, err := s.Seal([]byte("secret"))
	require.NoError(t, err)

	tampered := env
	raw, _ := base64.StdEncoding.DecodeString(env.Ciphertext)
	raw[0] ^= 0x01
	tampered.Ciphertext = base64.StdEncoding.EncodeToString(raw)
	plain, err := s.Open(tampered)
	assert.ErrorIs(t, err, ErrDecryption)
	assert.Nil(t, plain)

	other, err := NewSealer("ffffffffffffffffffffffffffffffff")
	require.NoError(t, err)
	_, err = other.Open(env)
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = s.Open(Envelope{Ciphertext: env.Ciphertext, IV: "!!", Tag: env.Tag})
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestNewSealerRejectsShortSecret(t *testing.T) {
	_, err := NewSealer("")
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = NewSealer("0123456789abcdef0123456789abcde")
	assert.ErrorIs(t, err, ErrConfiguration)
}
