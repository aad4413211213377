package config

import "testing"

func validProd() *Config {
	return &Config{
		Env:                 "production",
		SessionTTLHours:     24,
		DatabaseURL:         "postgres://localhost/tokens",
		StripeSecretKey:     "sk_test_x",
		StripeWebhookSecret: "whsec_something",
		AdminSessionSecret:  "secret",
	}
}

func TestValidateProduction(t *testing.T) {
	if err := validProd().Validate(); err != nil {
		t.Fatalf("valid production config rejected: %v", err)
	}

	mutations := map[string]func(*Config){
		"stripe key":     func(c *Config) { c.StripeSecretKey = "" },
		"webhook secret": func(c *Config) { c.StripeWebhookSecret = "" },
		"database url":   func(c *Config) { c.DatabaseURL = "" },
		"session secret": func(c *Config) { c.AdminSessionSecret = "" },
	}
	for name, mutate := range mutations {
		c := validProd()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("production config without %s accepted", name)
		}
	}
}

func TestValidateDevelopmentAllowsEmptySecrets(t *testing.T) {
	c := &Config{Env: "development", SessionTTLHours: 24}
	if err := c.Validate(); err != nil {
		t.Errorf("development config rejected: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	c := &Config{Env: "development", SessionTTLHours: 0}
	if err := c.Validate(); err == nil {
		t.Error("zero session TTL accepted")
	}

	c = &Config{Env: "development", SessionTTLHours: 24, SignupGrantTokens: -1}
	if err := c.Validate(); err == nil {
		t.Error("negative signup grant accepted")
	}

	c = &Config{Env: "development", SessionTTLHours: 24, StripeWebhookSecret: "short"}
	if err := c.Validate(); err == nil {
		t.Error("malformed webhook secret accepted")
	}
}

func TestEnvHelpers(t *testing.T) {
	if !(&Config{Env: "development"}).IsDevelopment() {
		t.Error("IsDevelopment")
	}
	if !(&Config{Env: "production"}).IsProduction() {
		t.Error("IsProduction")
	}
	if (&Config{Env: "staging"}).IsProduction() {
		t.Error("staging is not production")
	}
}
