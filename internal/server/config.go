package server

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/tiergate/tiergate/pkg/licensing"
)

// Config holds all configuration for the license service.
type Config struct {
	DataDir     string
	BindAddress string
	Port        int
	AdminKey    string

	LicenseSecret       string
	LicenseValidityDays int

	StripeAPIKey        string
	StripeWebhookSecret string
	PriceProID          string
	PriceDiamondID      string
	SuccessURL          string
	CancelURL           string
	PortalReturnURL     string
}

// Prices maps each purchasable tier to its configured provider price ID.
// Tiers without a configured price are absent.
func (c *Config) Prices() map[licensing.Tier]string {
	prices := make(map[licensing.Tier]string)
	if c.PriceProID != "" {
		prices[licensing.TierPro] = c.PriceProID
	}
	if c.PriceDiamondID != "" {
		prices[licensing.TierDiamond] = c.PriceDiamondID
	}
	return prices
}

// LoadConfig loads service configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("TG_PORT", 8480)
	if err != nil {
		return nil, err
	}
	validityDays, err := envOrDefaultInt("LICENSE_VALIDITY_DAYS", 30)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("TG_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("TG_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		AdminKey:            strings.TrimSpace(os.Getenv("TG_ADMIN_KEY")),
		LicenseSecret:       strings.TrimSpace(os.Getenv("LICENSE_SECRET")),
		LicenseValidityDays: validityDays,
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		PriceProID:          strings.TrimSpace(os.Getenv("PRICE_PRO_ID")),
		PriceDiamondID:      strings.TrimSpace(os.Getenv("PRICE_DIAMOND_ID")),
		SuccessURL:          envOrDefault("SUCCESS_URL", "https://example.com/success"),
		CancelURL:           envOrDefault("CANCEL_URL", "https://example.com/cancel"),
		PortalReturnURL:     strings.TrimSpace(os.Getenv("PORTAL_RETURN_URL")),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.LicenseSecret == "" {
		missing = append(missing, "LICENSE_SECRET")
	}
	if c.StripeAPIKey == "" {
		missing = append(missing, "STRIPE_API_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.PriceProID == "" && c.PriceDiamondID == "" {
		return fmt.Errorf("at least one of PRICE_PRO_ID or PRICE_DIAMOND_ID must be set")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("TG_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.LicenseValidityDays <= 0 {
		return fmt.Errorf("LICENSE_VALIDITY_DAYS must be greater than 0, got %d", c.LicenseValidityDays)
	}

	for _, u := range []struct {
		name  string
		value string
	}{
		{"SUCCESS_URL", c.SuccessURL},
		{"CANCEL_URL", c.CancelURL},
	} {
		parsed, err := url.Parse(u.value)
		if err != nil {
			return fmt.Errorf("%s must be a valid URL: %w", u.name, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("%s must use http or https scheme", u.name)
		}
		if parsed.Host == "" {
			return fmt.Errorf("%s must include a host", u.name)
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}
