package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestWriteDefaultConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "test_config.yml")

	require.NoError(t, WriteDefaultConfig(configPath))

	cfg := &Config{}
	f, err := os.Open(configPath)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, yaml.NewDecoder(f).Decode(cfg))

	assert.Equal(t, "5959", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "dev", cfg.Server.Env)
	assert.Equal(t, "self_signed", cfg.Server.DTLS.Certs.Mode)
	assert.Equal(t, "certs/", cfg.Server.DTLS.Certs.Path)
	assert.Equal(t, "server.crt", cfg.Server.DTLS.Certs.Cert)
	assert.Equal(t, "server.key", cfg.Server.DTLS.Certs.Key)
	assert.Equal(t, "ca.crt", cfg.Server.DTLS.Certs.CA)
	assert.Equal(t, "no_client_cert", cfg.Server.DTLS.Security.ClientAuth)
	assert.Equal(t, "request", cfg.Server.DTLS.Security.ExtendedMasterSecret)
	assert.Equal(t, 1200, cfg.Server.DTLS.Tuning.MTU)
	assert.Equal(t, 64, cfg.Server.DTLS.Tuning.ReplayProtectionWindow)
	assert.False(t, cfg.Server.DTLS.Tuning.InsecureSkipVerifyHello)
	assert.Equal(t, "8000", cfg.ParamServer.Port)
	assert.False(t, cfg.ParamServer.Disabled)
	assert.Equal(t, "5s", cfg.Broker.CallTimeout)
	assert.Equal(t, uint(8192), cfg.Broker.ConnBufSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestWriteDefaultConfig_WriteError(t *testing.T) {
	err := WriteDefaultConfig(filepath.Join(t.TempDir(), "missing", "test_config.yml"))
	assert.Error(t, err)
}

func TestLoadFile_RoundTrip(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broker_config.yml")
	require.NoError(t, WriteDefaultConfig(configPath))

	cfg, err := LoadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, 5959, cfg.CorePort())
	assert.Equal(t, 8000, cfg.ParamPort())
	d, err := cfg.CallTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestLoadFile_PartialFileGetsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broker_config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: \"9000\"\n"), 0o644))

	cfg, err := LoadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.CorePort())
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.ParamPort())
	assert.Equal(t, "5s", cfg.Broker.CallTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broker_config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid: yaml: content: [unclosed"), 0o644))

	cfg, err := LoadFile(configPath)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadFile_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "server:\n  port: \"99999\"\n"},
		{"same ports", "server:\n  port: \"8000\"\n"},
		{"bad timeout", "broker:\n  call_timeout: soon\n"},
		{"negative timeout", "broker:\n  call_timeout: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "broker_config.yml")
			require.NoError(t, os.WriteFile(configPath, []byte(tt.body), 0o644))
			_, err := LoadFile(configPath)
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_SamePortsAllowedWhenParamServerDisabled(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broker_config.yml")
	body := "server:\n  port: \"8000\"\nparam_server:\n  disabled: true\n"
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))

	cfg, err := LoadFile(configPath)
	require.NoError(t, err)
	assert.True(t, cfg.ParamServer.Disabled)
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_DefaultPath(t *testing.T) {
	tmpDir := t.TempDir()
	oldDir, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(oldDir)
	require.NoError(t, os.Chdir(tmpDir))

	cfg := Default()
	cfg.Server.Port = "12000"
	require.NoError(t, SaveConfig(cfg, DefaultPath))

	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12000, loaded.CorePort())
}

func TestLoad_InvalidFileIsAnError(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broker_config.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestCallTimeout_Unset(t *testing.T) {
	cfg := &Config{}
	d, err := cfg.CallTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}
