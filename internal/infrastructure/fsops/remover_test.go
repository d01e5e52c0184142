package fsops

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveAll(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "scene.SAFE")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "measurement"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "measurement", "a.tiff"), []byte("x"), 0o644))

	r := NewRemover(nil, nil)
	require.NoError(t, r.RemoveAll(context.Background(), dir))
	assert.NoDirExists(t, dir)

	require.NoError(t, r.RemoveAll(context.Background(), dir), "missing path is not an error")
}

func TestRemoveAllRefusesRoot(t *testing.T) {
	t.Parallel()

	r := NewRemover([]string{"sudo", "-n"}, nil)
	require.Error(t, r.RemoveAll(context.Background(), "/"))
	require.Error(t, r.RemoveAll(context.Background(), " "))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "elevate")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

// lockedTree returns a directory whose contents the current user cannot delete.
func lockedTree(t *testing.T) string {
	t.Helper()
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "scratch")
	locked := filepath.Join(dir, "rtc_out")
	require.NoError(t, os.MkdirAll(locked, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(locked, "product.h5"), []byte("x"), 0o644))
	require.NoError(t, os.Chmod(locked, 0o555))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })
	return dir
}

func TestRemoveAllRetriesWithPrivileges(t *testing.T) {
	t.Parallel()

	dir := lockedTree(t)
	logPath := filepath.Join(t.TempDir(), "args")
	elevate := writeScript(t, `echo "$@" > "`+logPath+`"
chmod -R u+w "$4"
exec "$@"
`)

	r := NewRemover([]string{elevate}, nil)
	require.NoError(t, r.RemoveAll(context.Background(), dir))
	assert.NoDirExists(t, dir)

	args, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "rm -rf -- "+dir+"\n", string(args))
}

func TestRemoveAllReportsFailedPrivilegedRetry(t *testing.T) {
	t.Parallel()

	dir := lockedTree(t)
	elevate := writeScript(t, "echo 'a password is required' >&2\nexit 1\n")

	r := NewRemover([]string{elevate}, nil)
	err := r.RemoveAll(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "privileged remove")
	assert.Contains(t, err.Error(), "a password is required")
	assert.DirExists(t, dir)
}

func TestRemoveAllWithoutPrivilegesKeepsPermissionError(t *testing.T) {
	t.Parallel()

	dir := lockedTree(t)
	err := NewRemover(nil, nil).RemoveAll(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrPermission)
}
