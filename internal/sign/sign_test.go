package sign_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litescript/smartim-build/internal/sign"
)

func TestSignVerify(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	priv, pub, err := sign.GenerateKey(filepath.Join(dir, "keys"))
	require.NoError(t, err)

	artifact := filepath.Join(dir, "smart-im-switcher-1.2.3.zip")
	require.NoError(t, os.WriteFile(artifact, []byte("plugin bytes"), 0644))

	sigPath, err := sign.Sign(artifact, priv)
	require.NoError(t, err)
	assert.Equal(t, artifact+sign.SignatureExt, sigPath)

	require.NoError(t, sign.Verify(artifact, sigPath, pub))

	require.NoError(t, os.WriteFile(artifact, []byte("tampered bytes"), 0644))
	require.ErrorIs(t, sign.Verify(artifact, sigPath, pub), sign.ErrBadSignature)
}

func TestGenerateKeyKeepsExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, _, err := sign.GenerateKey(dir)
	require.NoError(t, err)

	_, _, err = sign.GenerateKey(dir)
	require.ErrorIs(t, err, os.ErrExist)
}

func TestWrongKeyType(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	priv, pub, err := sign.GenerateKey(dir)
	require.NoError(t, err)

	artifact := filepath.Join(dir, "a.zip")
	require.NoError(t, os.WriteFile(artifact, []byte("x"), 0644))

	_, err = sign.Sign(artifact, pub)
	require.ErrorIs(t, err, sign.ErrBadKey)

	sigPath, err := sign.Sign(artifact, priv)
	require.NoError(t, err)
	require.ErrorIs(t, sign.Verify(artifact, sigPath, priv), sign.ErrBadKey)
}

func TestVerifyWithOtherKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	priv, _, err := sign.GenerateKey(filepath.Join(dir, "a"))
	require.NoError(t, err)
	_, otherPub, err := sign.GenerateKey(filepath.Join(dir, "b"))
	require.NoError(t, err)

	artifact := filepath.Join(dir, "a.zip")
	require.NoError(t, os.WriteFile(artifact, []byte("x"), 0644))

	sigPath, err := sign.Sign(artifact, priv)
	require.NoError(t, err)
	require.ErrorIs(t, sign.Verify(artifact, sigPath, otherPub), sign.ErrBadSignature)
}
