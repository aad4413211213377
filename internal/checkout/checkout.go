// Package checkout sells token packages through Stripe.
//
// Flow:
//  1. The dashboard asks for a Stripe Checkout Session for a package
//  2. Stripe hosts the payment page and calls back on completion
//  3. The webhook handler verifies the signature and hands the completed
//     checkout to the Processor, which credits tokens exactly once
//
// Idempotency: Stripe redelivers webhooks until it sees a 2xx, so the
// Processor dedupes on the checkout session id. A redelivered completion
// is a no-op success.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cadogy/token-service/internal/ledger"
	"github.com/cadogy/token-service/internal/mailer"
	"github.com/cadogy/token-service/internal/metrics"
	"github.com/cadogy/token-service/internal/traces"
)

// Errors
var (
	ErrInvalidPayload = errors.New("checkout: invalid payload")
	ErrUnknownPackage = errors.New("checkout: unknown package")
)

// Package is one purchasable token bundle.
type Package struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Tokens     int64  `json:"tokens"`
	PriceCents int64  `json:"priceCents"`
}

// DefaultCatalog is the standard token package lineup.
func DefaultCatalog() []Package {
	return []Package{
		{ID: "starter", Name: "Starter Pack", Tokens: 500, PriceCents: 500},
		{ID: "plus", Name: "Plus Pack", Tokens: 1200, PriceCents: 1000},
		{ID: "pro", Name: "Pro Pack", Tokens: 3000, PriceCents: 2000},
	}
}

// FindPackage looks up a package by id.
func FindPackage(catalog []Package, id string) (Package, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

// CompletedCheckout is the distilled form of a checkout.session.completed
// event. The webhook handler verifies the Stripe signature before building
// one; the Processor trusts its input.
type CompletedCheckout struct {
	UserID        string
	TokenAmount   int64
	OrderID       string
	CustomerEmail string
}

// Processor turns completed checkouts into token credits.
type Processor struct {
	ledger *ledger.Service
	mail   mailer.Mailer
	logger *slog.Logger
}

// NewProcessor creates a checkout processor. mail may be nil.
func NewProcessor(svc *ledger.Service, mail mailer.Mailer, logger *slog.Logger) *Processor {
	return &Processor{ledger: svc, mail: mail, logger: logger}
}

// HandleCheckoutCompleted credits the purchased tokens.
//
// Returns ledger.ErrDuplicateOrder for a redelivered order; the caller
// treats that as success. The confirmation email is best effort: a send
// failure is logged and never undoes the credit.
func (p *Processor) HandleCheckoutCompleted(ctx context.Context, cc CompletedCheckout) (*ledger.Entry, error) {
	ctx, span := traces.StartSpan(ctx, "checkout.completed",
		traces.UserID(cc.UserID), traces.OrderID(cc.OrderID), traces.Amount(cc.TokenAmount))
	defer span.End()

	if cc.UserID == "" || cc.OrderID == "" || cc.TokenAmount <= 0 {
		metrics.WebhookEventsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: userId=%q orderId=%q tokens=%d",
			ErrInvalidPayload, cc.UserID, cc.OrderID, cc.TokenAmount)
	}

	entry, err := p.ledger.CreditPurchase(ctx, cc.UserID, cc.TokenAmount, cc.OrderID)
	if errors.Is(err, ledger.ErrDuplicateOrder) {
		metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		p.logger.Info("duplicate checkout delivery ignored", "order_id", cc.OrderID)
		return nil, err
	}
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("credit purchase: %w", err)
	}
	metrics.WebhookEventsTotal.WithLabelValues("credited").Inc()

	p.sendConfirmation(ctx, cc, entry)
	return entry, nil
}

func (p *Processor) sendConfirmation(ctx context.Context, cc CompletedCheckout, entry *ledger.Entry) {
	if p.mail == nil || cc.CustomerEmail == "" {
		return
	}

	msg := mailer.Message{
		To:      cc.CustomerEmail,
		Subject: fmt.Sprintf("Your %d tokens are ready", cc.TokenAmount),
		HTML: fmt.Sprintf("<p>Thanks for your purchase. %d tokens were added to your account; your balance is now %d.</p>",
			cc.TokenAmount, entry.NewBalance),
	}
	if err := p.mail.Send(ctx, msg); err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		p.logger.Warn("purchase confirmation email failed", "order_id", cc.OrderID, "error", err)
		return
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
}
