/**
 * @description
 * This package handles the configuration management for the donation-service.
 * It uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings, including the per-event-family webhook signing secrets.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the donation-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	BasketExchange   string `mapstructure:"BASKET_EXCHANGE"`
	BasketRoutingKey string `mapstructure:"BASKET_ROUTING_KEY"`

	StripeAPIBaseURL string `mapstructure:"STRIPE_API_BASE_URL"`
	StripeSecretKey  string `mapstructure:"STRIPE_SECRET_KEY"`

	// One signing secret per webhook event family. Verification fails closed
	// when the secret for an endpoint is unset.
	StripeWebhookSecretChargeSucceeded string `mapstructure:"STRIPE_WEBHOOK_SIGNATURE_CHARGE_SUCCEEDED"`
	StripeWebhookSecretChargeFailed    string `mapstructure:"STRIPE_WEBHOOK_SIGNATURE_CHARGE_FAILED"`
	StripeWebhookSecretChargeRefunded  string `mapstructure:"STRIPE_WEBHOOK_SIGNATURE_CHARGE_REFUNDED"`
	StripeWebhookSecretDispute         string `mapstructure:"STRIPE_WEBHOOK_SIGNATURE_DISPUTE"`

	PayPalAPIBaseURL string `mapstructure:"PAYPAL_API_BASE_URL"`
	PayPalEndpoint   string `mapstructure:"PAYPAL_ENDPOINT"`
	PayPalUser       string `mapstructure:"PAYPAL_USER"`
	PayPalPassword   string `mapstructure:"PAYPAL_PWD"`
	PayPalSignature  string `mapstructure:"PAYPAL_SIGNATURE"`

	SecretCookiePassword string `mapstructure:"SECRET_COOKIE_PASSWORD"`

	SignupURL        string `mapstructure:"SIGNUP_URL"`
	SignupSourceURL  string `mapstructure:"SIGNUP_SOURCE_URL"`
	SignupNewsletter string `mapstructure:"SIGNUP_NEWSLETTER"`
	MailchimpAPIKey  string `mapstructure:"MAILCHIMP_API_KEY"`
	MailchimpListID  string `mapstructure:"MAILCHIMP_LIST_ID"`

	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	DonateRateLimitPerMin   int    `mapstructure:"DONATE_RATE_LIMIT_PER_MINUTE"`
	ThankYouURL             string `mapstructure:"THANK_YOU_URL"`
	CORSAllowedOrigins      string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	DefaultCampaign         string `mapstructure:"DEFAULT_CAMPAIGN"`
	AllowedCampaigns        string `mapstructure:"ALLOWED_CAMPAIGNS"`
	UpgradeTrialPeriodDays  int    `mapstructure:"UPGRADE_TRIAL_PERIOD_DAYS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("BASKET_EXCHANGE", "crm_events")
	viper.SetDefault("BASKET_ROUTING_KEY", "donation.basket")
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("SIGNUP_SOURCE_URL", "https://donate.example.org/")
	viper.SetDefault("SIGNUP_NEWSLETTER", "foundation")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "donate:rate_limit")
	viper.SetDefault("DONATE_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("THANK_YOU_URL", "/thank-you/")
	viper.SetDefault("DEFAULT_CAMPAIGN", "foundation")
	viper.SetDefault("ALLOWED_CAMPAIGNS", "thunderbird,glassroomnyc")
	viper.SetDefault("UPGRADE_TRIAL_PERIOD_DAYS", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("BASKET_EXCHANGE")
	_ = viper.BindEnv("BASKET_ROUTING_KEY")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SIGNATURE_CHARGE_SUCCEEDED")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SIGNATURE_CHARGE_FAILED")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SIGNATURE_CHARGE_REFUNDED")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SIGNATURE_DISPUTE")
	_ = viper.BindEnv("PAYPAL_API_BASE_URL")
	_ = viper.BindEnv("PAYPAL_ENDPOINT")
	_ = viper.BindEnv("PAYPAL_USER")
	_ = viper.BindEnv("PAYPAL_PWD")
	_ = viper.BindEnv("PAYPAL_SIGNATURE")
	_ = viper.BindEnv("SECRET_COOKIE_PASSWORD")
	_ = viper.BindEnv("SIGNUP_URL")
	_ = viper.BindEnv("SIGNUP_SOURCE_URL")
	_ = viper.BindEnv("SIGNUP_NEWSLETTER")
	_ = viper.BindEnv("MAILCHIMP_API_KEY")
	_ = viper.BindEnv("MAILCHIMP_LIST_ID")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("DONATE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("THANK_YOU_URL")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("DEFAULT_CAMPAIGN")
	_ = viper.BindEnv("ALLOWED_CAMPAIGNS")
	_ = viper.BindEnv("UPGRADE_TRIAL_PERIOD_DAYS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "donate:rate_limit"
	}
	if config.DonateRateLimitPerMin <= 0 {
		config.DonateRateLimitPerMin = 20
	}
	if config.UpgradeTrialPeriodDays <= 0 {
		config.UpgradeTrialPeriodDays = 30
	}

	return
}

// AllowedCampaignList splits the configured campaign allowlist.
func (c Config) AllowedCampaignList() []string {
	var campaigns []string
	for _, tag := range strings.Split(c.AllowedCampaigns, ",") {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			campaigns = append(campaigns, trimmed)
		}
	}
	return campaigns
}

// AllowedOriginList splits the configured CORS origin allowlist.
func (c Config) AllowedOriginList() []string {
	if strings.TrimSpace(c.CORSAllowedOrigins) == "" {
		return []string{"https://*", "http://*"}
	}
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
