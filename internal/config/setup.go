// Package config provides interactive setup functionality.
package config

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Setup runs an interactive setup on stdin/stdout and saves the result to path.
func Setup(path string) (*Config, error) {
	return SetupFrom(os.Stdin, os.Stdout, path)
}

// SetupFrom runs the interactive setup reading answers from in.
func SetupFrom(in io.Reader, out io.Writer, path string) (*Config, error) {
	p := &prompter{in: bufio.NewReader(in), out: out}
	fmt.Fprintln(out, "=== Broker Configuration Setup ===")
	fmt.Fprintln(out)

	cfg := Default()

	fmt.Fprintln(out, "--- Registry Server ---")
	cfg.Server.Host = p.promptValidated("Host", cfg.Server.Host, validateHost)
	cfg.Server.Port = p.promptValidated("Port", cfg.Server.Port, validatePort)
	cfg.Server.Env = p.promptChoice("Environment", []string{"dev", "prod"}, "dev")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "--- Parameter Server ---")
	cfg.ParamServer.Disabled = !p.promptBool("Enable parameter server (y/n)", true)
	if !cfg.ParamServer.Disabled {
		cfg.ParamServer.Port = p.promptValidated("Port", cfg.ParamServer.Port, validatePort)
		cfg.ParamServer.DataDir = p.promptString("Data directory (optional, press Enter for in-memory)", "")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "--- Broker ---")
	cfg.Broker.CallTimeout = p.promptString("Node call timeout", cfg.Broker.CallTimeout)
	cfg.Metrics.Address = p.promptString("Metrics address (optional, e.g. ':9090')", "")
	cfg.Log.Level = p.promptChoice("Log level", []string{"debug", "info", "warn", "error"}, cfg.Log.Level)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "--- DTLS Certificates ---")
	cfg.Server.DTLS.Certs.Mode = p.promptChoice("Certificate mode", []string{"self_signed", "files"}, "self_signed")
	if cfg.Server.DTLS.Certs.Mode == "files" {
		cfg.Server.DTLS.Certs.Path = p.promptString("Certificate path", "certs/")
		cfg.Server.DTLS.Certs.Cert = p.promptString("Certificate file", "server.crt")
		cfg.Server.DTLS.Certs.Key = p.promptString("Key file", "server.key")
		cfg.Server.DTLS.Certs.CA = p.promptString("CA file (optional, press Enter to skip)", "")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "--- DTLS Security ---")
	clientAuthChoices := []string{
		"no_client_cert",
		"request_client_cert",
		"require_any_client_cert",
		"verify_client_cert_if_given",
		"require_and_verify_client_cert",
	}
	cfg.Server.DTLS.Security.ClientAuth = p.promptChoice("Client authentication", clientAuthChoices, "no_client_cert")
	if cs := p.promptString("Cipher suites (comma-separated, optional, press Enter to skip)", ""); cs != "" {
		cfg.Server.DTLS.Security.CipherSuites = parseStringSlice(cs)
	}
	cfg.Server.DTLS.Security.ExtendedMasterSecret = p.promptChoice("Extended Master Secret", []string{"request", "require", "disable"}, "request")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "--- DTLS Tuning ---")
	cfg.Server.DTLS.Tuning.MTU = p.promptInt("MTU", 1200)
	cfg.Server.DTLS.Tuning.ReplayProtectionWindow = p.promptInt("Replay Protection Window", 64)
	cfg.Server.DTLS.Tuning.FlightInterval = p.promptString("Flight Interval (e.g., '1s', optional, press Enter to skip)", "")
	cfg.Server.DTLS.Tuning.InsecureSkipVerifyHello = p.promptBool("Insecure Skip Verify Hello (DoS risk, y/n)", false)
	fmt.Fprintln(out)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Saving configuration to %s...\n", path)
	if err := SaveConfig(cfg, path); err != nil {
		return nil, fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintln(out, "Configuration saved successfully!")
	return cfg, nil
}

// SaveConfig saves a Config to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := yaml.NewEncoder(f)
	defer encoder.Close()
	if err := encoder.Encode(cfg); err != nil {
		return err
	}
	return nil
}

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) readLine() (string, bool) {
	input, err := p.in.ReadString('\n')
	if err != nil && input == "" {
		return "", false
	}
	return strings.TrimSpace(input), true
}

// promptString prompts for a string value with a default.
func (p *prompter) promptString(prompt string, defaultVal string) string {
	defaultText := ""
	if defaultVal != "" {
		defaultText = fmt.Sprintf(" [%s]", defaultVal)
	}
	fmt.Fprintf(p.out, "%s%s: ", prompt, defaultText)

	input, ok := p.readLine()
	if !ok || input == "" {
		return defaultVal
	}
	return input
}

// promptValidated prompts for a string and falls back to the default when check fails.
func (p *prompter) promptValidated(prompt string, defaultVal string, check func(string) error) string {
	v := p.promptString(prompt, defaultVal)
	if err := check(v); err != nil {
		fmt.Fprintf(p.out, "%v, using default %s\n", err, defaultVal)
		return defaultVal
	}
	return v
}

// promptInt prompts for an integer value with validation and a default.
func (p *prompter) promptInt(prompt string, defaultVal int) int {
	fmt.Fprintf(p.out, "%s [%d]: ", prompt, defaultVal)

	input, ok := p.readLine()
	if !ok || input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(p.out, "Invalid integer, using default %d\n", defaultVal)
		return defaultVal
	}
	return val
}

// promptChoice prompts for a choice from a list of options with a default.
func (p *prompter) promptChoice(prompt string, choices []string, defaultVal string) string {
	fmt.Fprintf(p.out, "%s (%s) [%s]: ", prompt, strings.Join(choices, "/"), defaultVal)

	input, ok := p.readLine()
	if !ok || input == "" {
		return defaultVal
	}
	for _, choice := range choices {
		if strings.EqualFold(input, choice) {
			return choice
		}
	}
	fmt.Fprintf(p.out, "Invalid choice, using default %s\n", defaultVal)
	return defaultVal
}

// promptBool prompts for a boolean value (y/n) with a default.
func (p *prompter) promptBool(prompt string, defaultVal bool) bool {
	defaultText := "n"
	if defaultVal {
		defaultText = "y"
	}
	fmt.Fprintf(p.out, "%s [%s]: ", prompt, defaultText)

	input, ok := p.readLine()
	if !ok || input == "" {
		return defaultVal
	}
	input = strings.ToLower(input)
	return input == "y" || input == "yes"
}

// parseStringSlice parses a comma-separated string into a slice of strings.
func parseStringSlice(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// validatePort validates a port number string.
func validatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// validateHost validates a host string (IP address or hostname).
func validateHost(host string) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}
	if len(host) > 253 {
		return fmt.Errorf("hostname too long")
	}
	return nil
}
