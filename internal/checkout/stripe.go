package checkout

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/cadogy/token-service/internal/traces"
)

// SessionCreator starts hosted payment sessions for token packages.
type SessionCreator interface {
	CreateSession(ctx context.Context, userID string, pkg Package) (url, sessionID string, err error)
}

// StripeCreator creates real Stripe Checkout Sessions.
type StripeCreator struct {
	api        *client.API
	successURL string
	cancelURL  string
}

// NewStripeCreator creates a session creator bound to a Stripe secret key.
func NewStripeCreator(secretKey, successURL, cancelURL string) *StripeCreator {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeCreator{api: api, successURL: successURL, cancelURL: cancelURL}
}

// CreateSession creates a payment-mode Checkout Session carrying the user id
// and token count in metadata; the webhook reads them back on completion.
func (s *StripeCreator) CreateSession(ctx context.Context, userID string, pkg Package) (string, string, error) {
	_, span := traces.StartSpan(ctx, "checkout.create_session",
		traces.UserID(userID), traces.Amount(pkg.Tokens))
	defer span.End()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(pkg.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(pkg.Name),
						Description: stripe.String(fmt.Sprintf("%d Cadogy tokens", pkg.Tokens)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("userId", userID)
	params.AddMetadata("tokens", strconv.FormatInt(pkg.Tokens, 10))

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, sess.ID, nil
}
