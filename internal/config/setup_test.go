package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestSaveConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "test_config.yml")

	cfg := &Config{}
	cfg.Server.Port = "9090"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Env = "prod"
	cfg.ParamServer.DataDir = "/var/lib/params"

	require.NoError(t, SaveConfig(cfg, configPath))

	loadedCfg := &Config{}
	f, err := os.Open(configPath)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, yaml.NewDecoder(f).Decode(loadedCfg))

	assert.Equal(t, "9090", loadedCfg.Server.Port)
	assert.Equal(t, "127.0.0.1", loadedCfg.Server.Host)
	assert.Equal(t, "prod", loadedCfg.Server.Env)
	assert.Equal(t, "/var/lib/params", loadedCfg.ParamServer.DataDir)
}

func TestSaveConfig_WriteError(t *testing.T) {
	err := SaveConfig(&Config{}, filepath.Join(t.TempDir(), "missing", "test_config.yml"))
	assert.Error(t, err)
}

func TestSetupFrom_AllDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broker_config.yml")
	var out bytes.Buffer

	cfg, err := SetupFrom(strings.NewReader(strings.Repeat("\n", 30)), &out, configPath)
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Contains(t, out.String(), "Configuration saved successfully!")

	loaded, err := LoadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSetupFrom_CustomAnswers(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broker_config.yml")
	answers := strings.Join([]string{
		"127.0.0.1", // host
		"12000",     // port
		"PROD",      // env
		"y",         // param server
		"12001",     // param port
		"/tmp/p",    // data dir
		"2s",        // call timeout
		":9090",     // metrics
		"debug",     // log level
		"",          // cert mode
		"",          // client auth
		"",          // cipher suites
		"",          // ems
		"abc",       // mtu
		"",          // replay window
		"",          // flight interval
		"",          // insecure hello
	}, "\n") + "\n"

	cfg, err := SetupFrom(strings.NewReader(answers), &bytes.Buffer{}, configPath)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "12000", cfg.Server.Port)
	assert.Equal(t, "prod", cfg.Server.Env)
	assert.Equal(t, "12001", cfg.ParamServer.Port)
	assert.Equal(t, "/tmp/p", cfg.ParamServer.DataDir)
	assert.Equal(t, "2s", cfg.Broker.CallTimeout)
	assert.Equal(t, ":9090", cfg.Metrics.Address)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 1200, cfg.Server.DTLS.Tuning.MTU)
}

func TestSetupFrom_InvalidPortFallsBack(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broker_config.yml")
	var out bytes.Buffer
	cfg, err := SetupFrom(strings.NewReader("\n70000\n"), &out, configPath)
	require.NoError(t, err)
	assert.Equal(t, "5959", cfg.Server.Port)
	assert.Contains(t, out.String(), "using default 5959")
}

func TestSetupFrom_ParamServerDisabled(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broker_config.yml")
	cfg, err := SetupFrom(strings.NewReader("\n\n\nn\n"), &bytes.Buffer{}, configPath)
	require.NoError(t, err)
	assert.True(t, cfg.ParamServer.Disabled)
}

func TestParseStringSlice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"simple", "a,b,c", []string{"a", "b", "c"}},
		{"with spaces", "a, b, c", []string{"a", "b", "c"}},
		{"empty", "", []string{}},
		{"single", "a", []string{"a"}},
		{"with empty parts", "a,,b", []string{"a", "b"}},
		{"whitespace only", "   ,  ,  ", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseStringSlice(tt.input))
		})
	}
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		name    string
		portStr string
		wantErr bool
	}{
		{"valid", "8080", false},
		{"min valid", "1", false},
		{"max valid", "65535", false},
		{"too small", "0", true},
		{"negative", "-1", true},
		{"too large", "65536", true},
		{"invalid format", "abc", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePort(tt.portStr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateHost(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		wantErr bool
	}{
		{"valid IPv4", "127.0.0.1", false},
		{"valid IPv6", "::1", false},
		{"valid hostname", "localhost", false},
		{"valid hostname with domain", "example.com", false},
		{"empty", "", true},
		{"too long", string(make([]byte, 254)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateHost(tt.host)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
