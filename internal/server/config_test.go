package server

import (
	"strings"
	"testing"

	"github.com/tiergate/tiergate/pkg/licensing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LICENSE_SECRET", "test-license-secret")
	t.Setenv("STRIPE_API_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("PRICE_PRO_ID", "price_pro")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 8480 {
		t.Errorf("Port = %d, want 8480", cfg.Port)
	}
	if cfg.DataDir != "/data" {
		t.Errorf("DataDir = %q, want /data", cfg.DataDir)
	}
	if cfg.LicenseValidityDays != 30 {
		t.Errorf("LicenseValidityDays = %d, want 30", cfg.LicenseValidityDays)
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LICENSE_SECRET", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error for missing required variables")
	}
	for _, name := range []string{"LICENSE_SECRET", "STRIPE_WEBHOOK_SECRET"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not name %s", err, name)
		}
	}
}

func TestLoadConfigRequiresAPrice(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PRICE_PRO_ID", "")
	t.Setenv("PRICE_DIAMOND_ID", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when no price is configured")
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "TG_PORT", "99999"},
		{"non-numeric port", "TG_PORT", "eighty"},
		{"zero validity", "LICENSE_VALIDITY_DAYS", "0"},
		{"bad success url", "SUCCESS_URL", "ftp://example.com"},
		{"hostless cancel url", "CANCEL_URL", "https://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("LoadConfig accepted %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestConfigPrices(t *testing.T) {
	cfg := &Config{PriceProID: "price_pro"}
	prices := cfg.Prices()
	if prices[licensing.TierPro] != "price_pro" {
		t.Errorf("Prices() = %v", prices)
	}
	if _, ok := prices[licensing.TierDiamond]; ok {
		t.Error("unconfigured diamond tier should be absent")
	}

	cfg.PriceDiamondID = "price_diamond"
	if got := cfg.Prices(); len(got) != 2 {
		t.Errorf("Prices() = %v, want both tiers", got)
	}
}
