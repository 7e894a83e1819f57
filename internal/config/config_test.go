package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "DONATE_RATE_LIMIT_PER_MINUTE")
	unsetEnvWithCleanup(t, "UPGRADE_TRIAL_PERIOD_DAYS")
	unsetEnvWithCleanup(t, "BASKET_EXCHANGE")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default server port 8080, got %q", cfg.ServerPort)
	}
	if cfg.BasketExchange != "crm_events" {
		t.Fatalf("expected default basket exchange, got %q", cfg.BasketExchange)
	}
	if cfg.DonateRateLimitPerMin != 20 {
		t.Fatalf("expected default donate rate limit 20, got %d", cfg.DonateRateLimitPerMin)
	}
	if cfg.UpgradeTrialPeriodDays != 30 {
		t.Fatalf("expected default upgrade trial of 30 days, got %d", cfg.UpgradeTrialPeriodDays)
	}
}

func TestLoadConfig_PerEventWebhookSecrets(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "STRIPE_WEBHOOK_SIGNATURE_CHARGE_SUCCEEDED", "whsec_success")
	setEnvWithCleanup(t, "STRIPE_WEBHOOK_SIGNATURE_CHARGE_FAILED", "whsec_failed")
	setEnvWithCleanup(t, "STRIPE_WEBHOOK_SIGNATURE_CHARGE_REFUNDED", "whsec_refunded")
	setEnvWithCleanup(t, "STRIPE_WEBHOOK_SIGNATURE_DISPUTE", "whsec_dispute")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StripeWebhookSecretChargeSucceeded != "whsec_success" ||
		cfg.StripeWebhookSecretChargeFailed != "whsec_failed" ||
		cfg.StripeWebhookSecretChargeRefunded != "whsec_refunded" ||
		cfg.StripeWebhookSecretDispute != "whsec_dispute" {
		t.Fatalf("webhook secrets not loaded per event family: %+v", cfg)
	}
}

func TestLoadConfig_NonPositiveRateLimitCoerced(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DONATE_RATE_LIMIT_PER_MINUTE", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DonateRateLimitPerMin != 20 {
		t.Fatalf("expected negative rate limit to fall back to 20, got %d", cfg.DonateRateLimitPerMin)
	}
}

func TestAllowedCampaignList(t *testing.T) {
	cfg := Config{AllowedCampaigns: " thunderbird , glassroomnyc ,, "}
	got := cfg.AllowedCampaignList()
	if len(got) != 2 || got[0] != "thunderbird" || got[1] != "glassroomnyc" {
		t.Fatalf("unexpected campaign list: %v", got)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
