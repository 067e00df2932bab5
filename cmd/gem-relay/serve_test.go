package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/gem-relay/internal/di"
)

func TestFindConfigFile(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, defaultConfigFile)
	if err := os.WriteFile(configPath, []byte("server:\n  listen: localhost:8600\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	found := findConfigInWithHome(tmpDir, t.TempDir())
	if found != configPath {
		t.Errorf("Expected config in tmpDir, got %q", found)
	}
}

func TestFindConfigFileNotFound(t *testing.T) {
	t.Parallel()

	// Empty work and home directories - no config anywhere
	found := findConfigInWithHome(t.TempDir(), t.TempDir())
	if found != defaultConfigFile {
		t.Errorf("Expected %q default, got %q", defaultConfigFile, found)
	}
}

func TestFindConfigFileInHomeDir(t *testing.T) {
	t.Parallel()

	homeDir := t.TempDir()
	workDir := t.TempDir()

	configDir := filepath.Join(homeDir, ".config", configDirName)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(configDir, defaultConfigFile)
	if err := os.WriteFile(configPath, []byte("server:\n  listen: localhost:8600\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	found := findConfigInWithHome(workDir, homeDir)
	if found != configPath {
		t.Errorf("Expected %q, got %q", configPath, found)
	}
}

// validServeConfig is a minimal valid configuration for serve tests.
// The pool stays disabled so no test touches the real upstream.
const validServeConfig = `
server:
  listen: "127.0.0.1:0"
keys:
  api_keys:
    - AIzaServeTestKey1
logging:
  level: error
  format: json
cache:
  mode: disabled
`

func createServeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, defaultConfigFile)
	err := os.WriteFile(path, []byte(validServeConfig), 0o600)
	require.NoError(t, err)
	return path
}

func TestDIContainerInitialization(t *testing.T) {
	t.Parallel()

	configPath := createServeTestConfig(t)

	container, err := di.NewContainer(configPath)
	require.NoError(t, err)
	require.NotNil(t, container)

	cfgSvc, err := di.Invoke[*di.ConfigService](container)
	require.NoError(t, err)
	assert.NotNil(t, cfgSvc.Get())

	serverSvc, err := di.Invoke[*di.ServerService](container)
	require.NoError(t, err)
	assert.NotNil(t, serverSvc.Server)

	err = container.Shutdown()
	assert.NoError(t, err)
}

func TestDIContainerInvalidConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.yaml")
	err := os.WriteFile(path, []byte("invalid: yaml: content"), 0o600)
	require.NoError(t, err)

	container, err := di.NewContainer(path)
	require.NoError(t, err, "container creation is lazy")
	assert.Error(t, container.HealthCheck())
	_ = container.Shutdown()
}

func TestRunWithGracefulShutdown(t *testing.T) {
	t.Parallel()

	configPath := createServeTestConfig(t)

	container, err := di.NewContainer(configPath)
	require.NoError(t, err)

	serverSvc, err := di.Invoke[*di.ServerService](container)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runWithGracefulShutdown(serverSvc.Server, container, ":0", nil)
	}()

	// Wait for server to start
	time.Sleep(50 * time.Millisecond)

	p, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	err = p.Signal(syscall.SIGTERM)
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestServerIntegration(t *testing.T) {
	t.Parallel()

	configPath := createServeTestConfig(t)

	container, err := di.NewContainer(configPath)
	require.NoError(t, err)
	defer func() {
		if shutdownErr := container.Shutdown(); shutdownErr != nil {
			t.Logf("container shutdown error: %v", shutdownErr)
		}
	}()

	serverSvc, err := di.Invoke[*di.ServerService](container)
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- serverSvc.Server.ListenAndServe()
	}()

	// Wait for server to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = serverSvc.Server.Shutdown(ctx)
	require.NoError(t, err)

	select {
	case err := <-serverErr:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestConfigWatcherLifecycle(t *testing.T) {
	t.Parallel()

	configPath := createServeTestConfig(t)

	container, err := di.NewContainer(configPath)
	require.NoError(t, err)

	cfgSvc, err := di.Invoke[*di.ConfigService](container)
	require.NoError(t, err)
	assert.NotNil(t, cfgSvc.Get(), "config should be loaded")

	watchCtx, watchCancel := context.WithCancel(context.Background())
	cfgSvc.StartWatching(watchCtx)

	// Allow watcher to start
	time.Sleep(50 * time.Millisecond)

	watchCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = container.ShutdownWithContext(ctx)
	if err != nil {
		t.Logf("Container shutdown returned: %v", err)
	}
}
