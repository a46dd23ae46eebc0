package collection

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/brettbedarf/colstore"
	"github.com/brettbedarf/colstore/config"
	"github.com/brettbedarf/colstore/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *AESCipher {
	t.Helper()
	c, err := NewAESCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return c
}

func TestAESCipher(t *testing.T) {
	t.Parallel()
	c := testCipher(t)

	sealed, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	again, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce is random")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)

	_, err = c.Decrypt("not base64!")
	assert.Error(t, err)
	_, err = c.Decrypt("c2hvcnQ=")
	assert.Error(t, err)

	_, err = NewAESCipher([]byte("short"))
	assert.Error(t, err)
}

func TestSecrets_PersistEncrypted(t *testing.T) {
	t.Parallel()
	root := filepath.Join(t.TempDir(), "c")
	cfg := createTestConfig()
	ctx := context.Background()

	s, err := Create(cfg, root, "C", testCipher(t))
	require.NoError(t, err)

	vars := map[string]colstore.Variable{
		"token": {Value: "s3cr3t", Enabled: true, Secret: true},
		"host":  {Value: "example.com", Enabled: true},
	}
	v, err := s.Update(ctx, s.RootID(), &Patch{Variables: &vars})
	require.NoError(t, err)
	assert.Empty(t, v.Variables["token"].Value, "views mask secrets")
	assert.Equal(t, "example.com", v.Variables["host"].Value)

	// patching the masked view back keeps the secret
	masked := v.Variables
	_, err = s.Update(ctx, s.RootID(), &Patch{Variables: &masked})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	info, err := os.ReadFile(filepath.Join(root, config.DefaultInfoFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(info), "s3cr3t")
	secrets, err := os.ReadFile(filepath.Join(root, config.DefaultSecretsFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(secrets), "s3cr3t")

	s2, err := Open(cfg, root, testCipher(t))
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Variables(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"token": "s3cr3t", "host": "example.com"}, got)
}

func TestSecrets_WrongKeyDegrades(t *testing.T) {
	t.Parallel()
	root := filepath.Join(t.TempDir(), "c")
	cfg := createTestConfig()
	ctx := context.Background()

	s, err := Create(cfg, root, "C", testCipher(t))
	require.NoError(t, err)
	vars := map[string]colstore.Variable{"token": {Value: "s3cr3t", Enabled: true, Secret: true}}
	_, err = s.Update(ctx, s.RootID(), &Patch{Variables: &vars})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	other, err := NewAESCipher(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)
	s2, err := Open(cfg, root, other)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Variables(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", got["token"])
}

func TestSecrets_WithoutCipherNeverWritten(t *testing.T) {
	t.Parallel()
	s, root := newTestStore(t)

	vars := map[string]colstore.Variable{"token": {Value: "s3cr3t", Enabled: true, Secret: true}}
	_, err := s.Update(context.Background(), s.RootID(), &Patch{Variables: &vars})
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(root, config.DefaultSecretsFileName))
	info, err := os.ReadFile(filepath.Join(root, config.DefaultInfoFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(info), "s3cr3t")
}

func TestSecrets_EncryptFailureLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()
	root := filepath.Join(t.TempDir(), "c")
	cfg := createTestConfig()
	ctx := context.Background()

	cipher := &mocks.MockSecretCipher{}
	cipher.On("Encrypt", mock.Anything).Return("", errors.New("hsm offline"))

	s, err := Create(cfg, root, "C", cipher)
	require.NoError(t, err)
	defer s.Close()

	vars := map[string]colstore.Variable{"token": {Value: "s3cr3t", Enabled: true, Secret: true}}
	_, err = s.Update(ctx, s.RootID(), &Patch{Variables: &vars})
	var saveErr *SaveError
	require.ErrorAs(t, err, &saveErr)
	assert.ErrorContains(t, err, "hsm offline")
	cipher.AssertCalled(t, "Encrypt", "s3cr3t")

	got, err := s.Variables(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoFileExists(t, filepath.Join(root, config.DefaultSecretsFileName))
}
