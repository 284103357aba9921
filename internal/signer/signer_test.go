package signer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNewDerivesAddress(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", s.Address())
}

func TestNewRejectsBadKeys(t *testing.T) {
	for _, k := range []string{"", "zz", "0x1234"} {
		_, err := New(k)
		assert.Error(t, err, k)
	}
}

func TestSignRecover(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1700000000, 42) }

	payload := []byte(`{"rows":[[1,2,3]]}`)
	sig, ts, err := s.Sign(payload, "http://scorer:9000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000000042), ts)

	addr, err := Recover(payload, ts, "http://scorer:9000", sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	// Any change to the signed material yields a different signer.
	other, err := Recover([]byte(`{}`), ts, "http://scorer:9000", sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)

	other, err = Recover(payload, ts+1, "http://scorer:9000", sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)
}

func TestRecoverRejectsGarbage(t *testing.T) {
	_, err := Recover(nil, 0, "", "not base64!")
	assert.Error(t, err)
	_, err = Recover(nil, 0, "", "AAAA")
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a.Address(), b.Address())
}
