/**
 * @description
 * This is the main entry point for the donation service. It wires the
 * payment gateways, the session codec, the CRM basket queue, the newsletter
 * clients, and the Redis rate limiter into the HTTP router, then runs the
 * server with graceful shutdown.
 *
 * Key features:
 * - Loads application configuration from environment variables.
 * - Falls back to a no-op queue producer when RabbitMQ is unreachable, so
 *   donations keep flowing during a broker outage.
 * - Implements graceful shutdown to ensure clean resource cleanup on
 *   termination.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/redis/go-redis/v9: Redis client backing the rate limiter.
 * - The service's internal packages for config, business logic, and HTTP handling.
 */
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/enterstudio/donation-service/internal/api"
	"github.com/enterstudio/donation-service/internal/app"
	"github.com/enterstudio/donation-service/internal/config"
	"github.com/enterstudio/donation-service/internal/domain"
	"github.com/enterstudio/donation-service/internal/session"
	"github.com/enterstudio/donation-service/pkg/basketqueue"
	"github.com/enterstudio/donation-service/pkg/newsletter"
	"github.com/enterstudio/donation-service/pkg/paypalclient"
	"github.com/enterstudio/donation-service/pkg/stripeclient"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.StripeSecretKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"stripe secret key must be configured\" env=STRIPE_SECRET_KEY")
	}
	if strings.TrimSpace(cfg.SecretCookiePassword) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"cookie secret must be configured\" env=SECRET_COOKIE_PASSWORD")
	}

	log.Printf("level=info component=bootstrap msg=\"starting donation-service\" port=%s", cfg.ServerPort)

	// Set up the CRM basket queue producer. A broker outage must not stop
	// donations, so connection failure falls back to a logging no-op.
	var queue basketqueue.Publisher
	producer, err := basketqueue.NewProducer(cfg.RabbitMQURL, cfg.BasketExchange, cfg.BasketRoutingKey)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq unavailable, CRM events will be dropped\" err=%v", err)
		queue = &basketqueue.FallbackProducer{}
	} else {
		queue = producer
	}
	defer queue.Close()

	codec, err := session.NewCodec(cfg.SecretCookiePassword)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"session codec init failed\" err=%v", err)
	}

	stripeGateway := stripeclient.NewClient(cfg.StripeAPIBaseURL, cfg.StripeSecretKey)
	paypalGateway := paypalclient.NewClient(cfg.PayPalAPIBaseURL, cfg.PayPalEndpoint, cfg.PayPalUser, cfg.PayPalPassword, cfg.PayPalSignature)

	var signupClient app.SignupClient
	if cfg.SignupURL != "" {
		signupClient = newsletter.NewClient(cfg.SignupURL, cfg.SignupSourceURL, cfg.SignupNewsletter)
	}
	var mailchimpClient *newsletter.MailchimpClient
	if cfg.MailchimpAPIKey != "" && cfg.MailchimpListID != "" {
		mailchimpClient = newsletter.NewMailchimpClient(cfg.MailchimpAPIKey, cfg.MailchimpListID)
	}

	campaigns := domain.NewCampaigns(cfg.DefaultCampaign, cfg.AllowedCampaignList())

	service := app.NewService(stripeGateway, paypalGateway, queue, codec, signupClient, campaigns, cfg.UpgradeTrialPeriodDays)
	reconciler := app.NewReconciler(stripeGateway, queue, campaigns, app.WebhookSecrets{
		ChargeSucceeded: cfg.StripeWebhookSecretChargeSucceeded,
		ChargeFailed:    cfg.StripeWebhookSecretChargeFailed,
		ChargeRefunded:  cfg.StripeWebhookSecretChargeRefunded,
		Dispute:         cfg.StripeWebhookSecretDispute,
	})

	// Set up the Redis-backed rate limiter. Missing or unreachable Redis
	// disables limiting rather than blocking donations.
	var limiter api.RateLimiter
	if cfg.DonateRateLimitPerMin > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; donation rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; donation rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; donation rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					limiter = app.NewRedisDonationRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	handlers := api.NewDonationHandlers(service, signupClient, mailchimpClient, cfg.ThankYouURL)
	webhookHandlers := api.NewWebhookHandlers(reconciler)
	router := api.DonationRoutes(handlers, webhookHandlers, limiter, cfg.DonateRateLimitPerMin, cfg.AllowedOriginList())

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=bootstrap msg=\"server listening\" port=%s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %s\n", err)
		}
	}()

	// Graceful shutdown logic.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server gracefully stopped")
}
