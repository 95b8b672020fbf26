package unlocker_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	envunlocker "github.com/lumenwallet/custody/internal/infrastructure/unlocker/env"
	fileunlocker "github.com/lumenwallet/custody/internal/infrastructure/unlocker/file"
	"github.com/stretchr/testify/require"
)

func TestEnvUnlocker(t *testing.T) {
	unlocker, err := envunlocker.NewService("")
	require.Error(t, err)
	require.Nil(t, unlocker)

	unlocker, err = envunlocker.NewService("secret")
	require.NoError(t, err)

	password, err := unlocker.GetPassword(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), password)

	// Wiping the returned buffer leaves the unlocker intact.
	clear(password)
	password, err = unlocker.GetPassword(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), password)
}

func TestFileUnlocker(t *testing.T) {
	dir := t.TempDir()

	unlocker, err := fileunlocker.NewService(filepath.Join(dir, "missing"))
	require.Error(t, err)
	require.Nil(t, unlocker)

	path := filepath.Join(dir, "password")
	require.NoError(t, os.WriteFile(path, []byte(" secret\r\n"), 0600))

	unlocker, err = fileunlocker.NewService(path)
	require.NoError(t, err)

	password, err := unlocker.GetPassword(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), password)

	require.NoError(t, os.WriteFile(path, []byte("\n"), 0600))
	password, err = unlocker.GetPassword(context.Background())
	require.Error(t, err)
	require.Nil(t, password)
}
