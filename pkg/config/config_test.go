package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/bat/pkg/config"
	"github.com/andrej220/bat/pkg/config/filestore"
)

const sampleYAML = `deployment: bat
director:
  environment: vbox
  env:
    - BOSH_CLIENT=admin
ssh:
  privateKey: /tmp/bat.pem
  insecureIgnoreHostKey: true
  port: "2222"
poll:
  timeout: 100s
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	store, err := config.NewStore(config.FileStore, &config.FileConfig{Path: writeConfig(t, sampleYAML)})
	require.NoError(t, err)

	env, err := config.Load(store)
	require.NoError(t, err)

	assert.Equal(t, "bat", env.Deployment)
	assert.Equal(t, "bosh", env.Director.Binary)
	assert.Equal(t, "vcap", env.SSH.User)
	assert.Equal(t, 10*time.Second, env.SSH.Timeout)
	assert.Equal(t, 100*time.Second, env.Poll.Timeout)
	assert.Equal(t, 10, env.Poll.Attempts)
	assert.Equal(t, "json", env.Log.Format)

	schedule := env.PollSchedule()
	assert.Equal(t, 10, schedule.Attempts)
	assert.Equal(t, 10*time.Second, schedule.Interval)

	opts := env.RemoteOptions()
	assert.Equal(t, "/tmp/bat.pem", opts.PrivateKey)
	assert.Equal(t, "2222", opts.Port)
	assert.True(t, opts.InsecureIgnoreHostKey)

	runner := env.Runner()
	assert.Equal(t, "vbox", runner.Environment)
	assert.Equal(t, []string{"BOSH_CLIENT=admin"}, runner.Env)

	assert.Equal(t, config.ServiceName, env.LogConfig().ServiceName)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing deployment", content: "ssh:\n  user: vcap\n"},
		{name: "bad log format", content: "deployment: bat\nlog:\n  format: xml\n"},
		{name: "bad port", content: "deployment: bat\nssh:\n  port: ssh\n"},
		{name: "bad director env", content: "deployment: bat\ndirector:\n  env: [BOSH_CLIENT]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(filestore.New(writeConfig(t, tt.content)))
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestLoadFileErrors(t *testing.T) {
	_, err := config.Load(filestore.New(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)

	_, err = config.Load(filestore.New(writeConfig(t, "")))
	assert.Error(t, err)

	_, err = config.Load(filestore.New(writeConfig(t, "deployment: [unterminated")))
	assert.Error(t, err)
}

func TestNewStoreTypeMismatch(t *testing.T) {
	_, err := config.NewStore(config.FileStore, &config.MongoConfig{})
	assert.Error(t, err)

	_, err = config.NewStore(config.MongoStore, &config.FileConfig{})
	assert.Error(t, err)

	_, err = config.NewStore(config.StoreType(42), nil)
	assert.ErrorIs(t, err, config.ErrInvalidStoreType)
}

func TestFileStoreSaveAndWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bat.yaml")
	store := filestore.New(path)

	env := &config.Env{Deployment: "bat"}
	env.SetDefaults()
	require.NoError(t, store.Save(env))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := config.Load(store)
	require.NoError(t, err)
	assert.Equal(t, env, loaded)

	changed := make(chan struct{}, 16)
	require.NoError(t, store.Watch(func() { changed <- struct{}{} }))

	env.Deployment = "bat-2"
	require.NoError(t, store.Save(env))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}

	assert.Error(t, store.Watch(nil))
}
