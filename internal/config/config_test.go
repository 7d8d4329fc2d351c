package config

import "testing"

func validServer() ServerConfig {
	return ServerConfig{
		Name:             "pbx1",
		Host:             "10.0.0.1",
		Username:         "admin",
		Secret:           "secret",
		ExtensionPattern: `^(\d+)$`,
	}
}

func TestValidateAppliesDefaults(t *testing.T) {
	cfg := &Config{Servers: []ServerConfig{validServer()}}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	s := cfg.Servers[0]
	if s.Port != 8088 {
		t.Errorf("Port = %d, want 8088", s.Port)
	}
	if s.Prefix != "asterisk" {
		t.Errorf("Prefix = %q, want asterisk", s.Prefix)
	}
	if s.Timeout.Seconds() != 45 {
		t.Errorf("Timeout = %v, want 45s", s.Timeout)
	}
	if s.RetryInterval.Seconds() != 30 {
		t.Errorf("RetryInterval = %v, want 30s", s.RetryInterval)
	}
	if s.DeviceFormat != "Custom:$0" {
		t.Errorf("DeviceFormat = %q, want Custom:$0", s.DeviceFormat)
	}
	if s.CompiledPattern == nil {
		t.Fatal("CompiledPattern was not compiled")
	}
	if !s.CompiledPattern.MatchString("101") {
		t.Error("CompiledPattern does not match expected extension")
	}
}

func TestValidateRejectsNoServers(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty server list")
	}
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	s1 := validServer()
	s2 := validServer()
	cfg := &Config{Servers: []ServerConfig{s1, s2}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate server names")
	}
}

func TestValidateRejectsMissingHost(t *testing.T) {
	s := validServer()
	s.Host = ""
	cfg := &Config{Servers: []ServerConfig{s}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestValidateRejectsInvalidExtensionPattern(t *testing.T) {
	s := validServer()
	s.ExtensionPattern = "("
	cfg := &Config{Servers: []ServerConfig{s}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid extension_pattern regex")
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	s := validServer()
	s.Port = 70000
	cfg := &Config{Servers: []ServerConfig{s}}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestAddr(t *testing.T) {
	s := ServerConfig{Host: "10.0.0.1", Port: 8088}
	if got := s.Addr(); got != "10.0.0.1:8088" {
		t.Errorf("Addr() = %q, want 10.0.0.1:8088", got)
	}
}
