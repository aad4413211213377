package checkout

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/cadogy/token-service/internal/ledger"
	"github.com/cadogy/token-service/internal/mailer"
	"github.com/cadogy/token-service/internal/user"
)

type processorFixture struct {
	processor *Processor
	users     *user.MemoryStore
	entries   *ledger.MemoryStore
	mail      *mailer.MemoryMailer
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	f := &processorFixture{
		users:   user.NewMemoryStore(),
		entries: ledger.NewMemoryStore(),
		mail:    mailer.NewMemoryMailer(),
	}
	logger := slog.New(slog.DiscardHandler)
	svc := ledger.NewService(f.users, f.entries, logger, nil)
	f.processor = NewProcessor(svc, f.mail, logger)
	return f
}

func (f *processorFixture) createUser(t *testing.T) *user.User {
	t.Helper()
	u := &user.User{Email: "buyer@example.com"}
	if err := f.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestHandleCheckoutCompleted(t *testing.T) {
	f := newProcessorFixture(t)
	u := f.createUser(t)

	entry, err := f.processor.HandleCheckoutCompleted(context.Background(), CompletedCheckout{
		UserID:        u.ID,
		TokenAmount:   500,
		OrderID:       "cs_test_123",
		CustomerEmail: "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if entry.NewBalance != 500 {
		t.Errorf("new balance = %d, want 500", entry.NewBalance)
	}
	if entry.OrderID != "cs_test_123" {
		t.Errorf("order id = %q", entry.OrderID)
	}
	if entry.ActorType != ledger.ActorSystem {
		t.Errorf("actor type = %q, want system", entry.ActorType)
	}

	sent := f.mail.Sent()
	if len(sent) != 1 || sent[0].To != "buyer@example.com" {
		t.Errorf("confirmation mail = %+v, want one to buyer", sent)
	}
}

func TestHandleCheckoutCompletedDuplicate(t *testing.T) {
	f := newProcessorFixture(t)
	u := f.createUser(t)

	cc := CompletedCheckout{UserID: u.ID, TokenAmount: 500, OrderID: "cs_test_dup"}
	if _, err := f.processor.HandleCheckoutCompleted(context.Background(), cc); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if _, err := f.processor.HandleCheckoutCompleted(context.Background(), cc); !errors.Is(err, ledger.ErrDuplicateOrder) {
		t.Fatalf("second delivery: err = %v, want ErrDuplicateOrder", err)
	}

	if balance, _ := f.users.GetBalance(context.Background(), u.ID); balance != 500 {
		t.Errorf("balance = %d, want 500 after redelivery", balance)
	}
}

func TestHandleCheckoutCompletedInvalid(t *testing.T) {
	f := newProcessorFixture(t)
	u := f.createUser(t)

	cases := []CompletedCheckout{
		{UserID: "", TokenAmount: 500, OrderID: "cs_1"},
		{UserID: u.ID, TokenAmount: 0, OrderID: "cs_2"},
		{UserID: u.ID, TokenAmount: -10, OrderID: "cs_3"},
		{UserID: u.ID, TokenAmount: 500, OrderID: ""},
	}
	for _, cc := range cases {
		if _, err := f.processor.HandleCheckoutCompleted(context.Background(), cc); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("%+v: err = %v, want ErrInvalidPayload", cc, err)
		}
	}

	if balance, _ := f.users.GetBalance(context.Background(), u.ID); balance != 0 {
		t.Errorf("balance = %d, want 0 after rejected payloads", balance)
	}
}

func TestMailFailureDoesNotFailCredit(t *testing.T) {
	f := newProcessorFixture(t)
	u := f.createUser(t)
	f.mail.Fail(errors.New("smtp down"))

	entry, err := f.processor.HandleCheckoutCompleted(context.Background(), CompletedCheckout{
		UserID:        u.ID,
		TokenAmount:   100,
		OrderID:       "cs_test_mail",
		CustomerEmail: "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if entry.NewBalance != 100 {
		t.Errorf("new balance = %d, want 100", entry.NewBalance)
	}
}

func TestFindPackage(t *testing.T) {
	catalog := DefaultCatalog()

	pkg, ok := FindPackage(catalog, "plus")
	if !ok || pkg.Tokens != 1200 {
		t.Errorf("plus = %+v ok=%v", pkg, ok)
	}
	if _, ok := FindPackage(catalog, "mega"); ok {
		t.Error("unknown package found")
	}
}
