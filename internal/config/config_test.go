package config

import (
	"testing"
	"time"
)

func validBase() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "calls", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidateReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateProductionRequiresSSLMode(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidateLocalDefaults(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Call.RingingTimeout != 30*time.Second || c.Call.SweepInterval != 5*time.Second {
		t.Fatalf("call timing not defaulted: %+v", c.Call)
	}
	if len(c.Call.ICEServers) == 0 {
		t.Fatalf("expected a default STUN server")
	}
}

func TestValidateSweepIntervalBound(t *testing.T) {
	c := validBase()
	c.Call.RingingTimeout = 10 * time.Second
	c.Call.SweepInterval = time.Minute
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for sweep interval above ringing timeout")
	}
}

func TestPostgresDSN(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	dsn := c.PostgresDSN()
	want := "host=localhost port=5432 user=postgres password=x dbname=calls sslmode=disable"
	if dsn != want {
		t.Fatalf("dsn = %q, want %q", dsn, want)
	}
}

func TestRedisAddr(t *testing.T) {
	c := validBase()
	if got := c.RedisAddr(); got != "localhost:6379" {
		t.Fatalf("addr = %q", got)
	}
}
