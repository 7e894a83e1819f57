/**
 * @description
 * Gateway interfaces consumed by the orchestration and reconciliation logic.
 * The concrete clients live in pkg/stripeclient and pkg/paypalclient; the
 * business logic only ever sees these interfaces, so tests can substitute
 * stubs and no ambient provider singleton exists anywhere.
 */

package app

import (
	"context"

	"github.com/enterstudio/donation-service/pkg/newsletter"
	"github.com/enterstudio/donation-service/pkg/paypalclient"
	"github.com/enterstudio/donation-service/pkg/stripeclient"
)

// StripeGateway is the card provider surface the service orchestrates.
type StripeGateway interface {
	CreateCustomer(ctx context.Context, params stripeclient.CustomerParams) (*stripeclient.Customer, error)
	RetrieveCustomer(ctx context.Context, customerID string) (*stripeclient.Customer, error)
	CreateCharge(ctx context.Context, params stripeclient.ChargeParams) (*stripeclient.Charge, error)
	RetrieveCharge(ctx context.Context, chargeID string) (*stripeclient.Charge, error)
	UpdateCharge(ctx context.Context, chargeID, description string, metadata map[string]string) (*stripeclient.Charge, error)
	CreateSubscription(ctx context.Context, params stripeclient.SubscriptionParams) (*stripeclient.Subscription, error)
	RetrieveSubscription(ctx context.Context, customerID, subscriptionID string) (*stripeclient.Subscription, error)
	CloseDispute(ctx context.Context, disputeID string) (*stripeclient.Dispute, error)
}

// PayPalGateway is the wallet provider surface the service orchestrates.
type PayPalGateway interface {
	SetupCheckout(ctx context.Context, params paypalclient.CheckoutParams) (string, error)
	CheckoutURL(token string) string
	GetCheckoutDetails(ctx context.Context, token string) (*paypalclient.CheckoutDetails, error)
	CompleteSale(ctx context.Context, details *paypalclient.CheckoutDetails) (*paypalclient.CompletedSale, error)
	CreateRecurringProfile(ctx context.Context, details *paypalclient.CheckoutDetails, description string) (*paypalclient.RecurringProfile, error)
}

// SignupClient is the best-effort mailing-list signup side call.
type SignupClient interface {
	Signup(ctx context.Context, req newsletter.SignupRequest) error
}
