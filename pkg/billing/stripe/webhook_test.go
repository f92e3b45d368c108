package stripe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/inkwell/pkg/billing"
	"github.com/mihaimyh/inkwell/pkg/community"
)

func TestWebhook_SubscriptionCreated(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	start := env.now.Add(-time.Hour)
	sub := withUserMetadata(stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, start), testUserID)

	w := env.deliver(t, "evt_1", "customer.subscription.created", env.now, sub)
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusSuccess {
		t.Fatalf("Expected status %q, got %q", statusSuccess, got)
	}

	ms := env.membership(t, testUserID)
	if !ms.Active || ms.Tier != "wall" {
		t.Fatalf("Expected active wall membership, got %+v", ms)
	}
	if ms.RenewsAt == nil || !ms.RenewsAt.Equal(start.AddDate(0, 1, 0)) {
		t.Errorf("Expected renewal at period end, got %v", ms.RenewsAt)
	}

	stored, err := env.manager.GetSubscription(ctx, testSubscriptionID)
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if stored.LastEventID != "evt_1" || stored.CustomerID != testCustomerID || stored.PriceID != testPriceIDWall {
		t.Errorf("Unexpected stored subscription: %+v", stored)
	}

	// The customer is linked so events without metadata resolve later.
	userID, err := env.manager.ResolveCustomer(ctx, testCustomerID)
	if err != nil || userID != testUserID {
		t.Errorf("Expected customer linked to %s, got %q (%v)", testUserID, userID, err)
	}
	done, _ := env.manager.EventProcessed(ctx, "evt_1")
	if !done {
		t.Error("Expected event to be marked processed")
	}
}

func TestWebhook_OutOfOrderDelivery(t *testing.T) {
	env := newTestEnv(t, nil)
	start := env.now.Add(-time.Hour)

	canceling := withUserMetadata(stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, start), testUserID)
	canceling.CancelAtPeriodEnd = true
	created := withUserMetadata(stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusIncomplete, start), testUserID)

	// The update arrives before the older creation event.
	expectCode(t, env.deliver(t, "evt_2", "customer.subscription.updated", env.now, canceling), http.StatusOK)
	w := env.deliver(t, "evt_1", "customer.subscription.created", env.now.Add(-time.Minute), created)
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusSkipped {
		t.Fatalf("Expected stale event to be skipped, got %q", got)
	}

	ms := env.membership(t, testUserID)
	if !ms.Active || !ms.CancelAtPeriodEnd {
		t.Errorf("Expected newer state to survive, got %+v", ms)
	}
}

func TestWebhook_CanceledIsTerminal(t *testing.T) {
	env := newTestEnv(t, nil)
	start := env.now.Add(-time.Hour)

	deleted := withUserMetadata(stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusCanceled, start), testUserID)
	deleted.CanceledAt = env.now.Unix()
	active := withUserMetadata(stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, start), testUserID)

	expectCode(t, env.deliver(t, "evt_del", "customer.subscription.deleted", env.now, deleted), http.StatusOK)
	// Same second, different event: not stale, but a canceled subscription never comes back.
	w := env.deliver(t, "evt_upd", "customer.subscription.updated", env.now, active)
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusSkipped {
		t.Fatalf("Expected late update to be skipped, got %q", got)
	}

	ms := env.membership(t, testUserID)
	if ms.Active || ms.Status != community.StatusCanceled {
		t.Errorf("Expected canceled membership, got %+v", ms)
	}
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	var calls int
	env := newTestEnv(t, func(c *Config) {
		c.WebhookCallback = func(context.Context, billing.WebhookEvent) error {
			calls++
			return nil
		}
	})
	sub := withUserMetadata(stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, env.now), testUserID)

	expectCode(t, env.deliver(t, "evt_1", "customer.subscription.created", env.now, sub), http.StatusOK)
	w := env.deliver(t, "evt_1", "customer.subscription.created", env.now, sub)
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusDuplicate {
		t.Fatalf("Expected duplicate, got %q", got)
	}
	if calls != 1 {
		t.Errorf("Expected callback once, got %d", calls)
	}
}

func TestWebhook_IdentityResolution(t *testing.T) {
	t.Run("customer link", func(t *testing.T) {
		env := newTestEnv(t, nil)
		if err := env.manager.LinkCustomer(context.Background(), testCustomerID, testUserID); err != nil {
			t.Fatalf("LinkCustomer failed: %v", err)
		}
		sub := stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, env.now)

		expectCode(t, env.deliver(t, "evt_1", "customer.subscription.updated", env.now, sub), http.StatusOK)
		if !env.membership(t, testUserID).Active {
			t.Error("Expected membership via customer link")
		}
		if n := env.api.callCount("GetCustomer"); n != 0 {
			t.Errorf("Expected no customer lookup, got %d", n)
		}
	})

	t.Run("customer metadata", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.api.putCustomer(&stripe.Customer{ID: testCustomerID, Metadata: map[string]string{metadataUserID: testUserID}})
		sub := stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, env.now)

		expectCode(t, env.deliver(t, "evt_1", "customer.subscription.updated", env.now, sub), http.StatusOK)
		if !env.membership(t, testUserID).Active {
			t.Error("Expected membership via customer metadata")
		}
		userID, _ := env.manager.ResolveCustomer(context.Background(), testCustomerID)
		if userID != testUserID {
			t.Errorf("Expected customer to be linked, got %q", userID)
		}
	})

	t.Run("customer email", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.manager.EnsureProfile(context.Background(), &community.Identity{UserID: testUserID, Email: "ada@example.com"})
		if err != nil {
			t.Fatalf("EnsureProfile failed: %v", err)
		}
		env.api.putCustomer(&stripe.Customer{ID: testCustomerID, Email: "Ada@Example.com"})
		sub := stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, env.now)

		expectCode(t, env.deliver(t, "evt_1", "customer.subscription.updated", env.now, sub), http.StatusOK)
		if !env.membership(t, testUserID).Active {
			t.Error("Expected membership via customer email")
		}
	})

	t.Run("unresolved is retried", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.api.putCustomer(&stripe.Customer{ID: testCustomerID, Email: "stranger@example.com"})
		sub := stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, env.now)

		expectCode(t, env.deliver(t, "evt_1", "customer.subscription.created", env.now, sub), http.StatusInternalServerError)
		if done, _ := env.manager.EventProcessed(context.Background(), "evt_1"); done {
			t.Fatal("Failed event must not be marked processed")
		}

		// Checkout completion links the customer; the redelivered event then succeeds.
		if err := env.manager.LinkCustomer(context.Background(), testCustomerID, testUserID); err != nil {
			t.Fatalf("LinkCustomer failed: %v", err)
		}
		expectCode(t, env.deliver(t, "evt_1", "customer.subscription.created", env.now, sub), http.StatusOK)
		if !env.membership(t, testUserID).Active {
			t.Error("Expected membership after redelivery")
		}
	})
}

func TestWebhook_CheckoutSubscription(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.api.putSubscription(stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, env.now))

	session := &stripe.CheckoutSession{
		ID:                "cs_1",
		Mode:              stripe.CheckoutSessionModeSubscription,
		ClientReferenceID: testUserID,
		Customer:          &stripe.Customer{ID: testCustomerID},
		Subscription:      &stripe.Subscription{ID: testSubscriptionID},
		PaymentStatus:     stripe.CheckoutSessionPaymentStatusPaid,
	}
	w := env.deliver(t, "evt_cs", "checkout.session.completed", env.now, session)
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusSuccess {
		t.Fatalf("Expected success, got %q", got)
	}

	if !env.membership(t, testUserID).Active {
		t.Error("Expected membership right after checkout")
	}
	if userID, _ := env.manager.ResolveCustomer(ctx, testCustomerID); userID != testUserID {
		t.Errorf("Expected customer linked, got %q", userID)
	}
	if n := env.api.callCount("SetSubscriptionUserID"); n != 1 {
		t.Errorf("Expected subscription metadata patched once, got %d", n)
	}
	patched, _ := env.api.GetSubscription(ctx, testSubscriptionID)
	if patched.Metadata[metadataUserID] != testUserID {
		t.Errorf("Expected user_id metadata, got %v", patched.Metadata)
	}

	// The subscription.created event that follows is older than checkout and only confirms state.
	sub := withUserMetadata(stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, env.now), testUserID)
	expectCode(t, env.deliver(t, "evt_created", "customer.subscription.created", env.now.Add(-time.Second), sub), http.StatusOK)
	if !env.membership(t, testUserID).Active {
		t.Error("Expected membership to stay active")
	}
}

func TestWebhook_CheckoutWithoutUser(t *testing.T) {
	env := newTestEnv(t, nil)
	session := &stripe.CheckoutSession{
		ID:           "cs_1",
		Mode:         stripe.CheckoutSessionModeSubscription,
		Subscription: &stripe.Subscription{ID: testSubscriptionID},
	}
	expectCode(t, env.deliver(t, "evt_cs", "checkout.session.completed", env.now, session), http.StatusInternalServerError)
}

func TestWebhook_TipCheckout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	tipSession := func(status stripe.CheckoutSessionPaymentStatus) *stripe.CheckoutSession {
		return &stripe.CheckoutSession{
			ID:                "cs_tip",
			Mode:              stripe.CheckoutSessionModePayment,
			ClientReferenceID: "reader_1",
			PaymentStatus:     status,
			AmountTotal:       500,
			Currency:          stripe.CurrencyUSD,
			Metadata: map[string]string{
				metadataKind:      kindTip,
				metadataTipperID:  "reader_1",
				metadataWriterID:  "writer_1",
				metadataWritingID: "writing_1",
			},
		}
	}

	w := env.deliver(t, "evt_pending", "checkout.session.completed", env.now, tipSession(stripe.CheckoutSessionPaymentStatusUnpaid))
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusIgnored {
		t.Fatalf("Expected unpaid tip to be ignored, got %q", got)
	}

	w = env.deliver(t, "evt_paid", "checkout.session.async_payment_succeeded", env.now, tipSession(stripe.CheckoutSessionPaymentStatusPaid))
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusSuccess {
		t.Fatalf("Expected tip recorded, got %q", got)
	}

	// A different event for the same session does not record the tip twice.
	w = env.deliver(t, "evt_paid_again", "checkout.session.completed", env.now, tipSession(stripe.CheckoutSessionPaymentStatusPaid))
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusDuplicate {
		t.Fatalf("Expected duplicate tip, got %q", got)
	}

	summary, err := env.manager.TipsForWriter(ctx, &community.Identity{UserID: "writer_1"}, "writer_1")
	if err != nil {
		t.Fatalf("TipsForWriter failed: %v", err)
	}
	if len(summary.Tips) != 1 || summary.TotalCents["usd"] != 500 {
		t.Errorf("Expected one 500 usd tip, got %+v", summary)
	}
	if summary.Tips[0].ID != "cs_tip" || summary.Tips[0].WritingID != "writing_1" {
		t.Errorf("Unexpected tip: %+v", summary.Tips[0])
	}
}

func TestWebhook_TipCheckoutInvalid(t *testing.T) {
	env := newTestEnv(t, nil)
	session := &stripe.CheckoutSession{
		ID:            "cs_tip",
		Mode:          stripe.CheckoutSessionModePayment,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:   500,
		Currency:      stripe.CurrencyUSD,
		Metadata:      map[string]string{metadataKind: kindTip, metadataTipperID: "reader_1"},
	}
	w := env.deliver(t, "evt_tip", "checkout.session.completed", env.now, session)
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusWarning {
		t.Fatalf("Expected warning for tip without writer, got %q", got)
	}
}

func TestWebhook_InvoiceEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	start := env.now.Add(-time.Hour)
	sub := withUserMetadata(stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, start), testUserID)
	env.api.putSubscription(sub)

	invoice := map[string]interface{}{
		"id":     "in_1",
		"object": "invoice",
		"parent": map[string]interface{}{
			"type":                 "subscription_details",
			"subscription_details": map[string]interface{}{"subscription": testSubscriptionID},
		},
	}
	w := env.deliver(t, "evt_paid", "invoice.payment_succeeded", env.now, invoice)
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusSuccess {
		t.Fatalf("Expected success, got %q", got)
	}

	past := withUserMetadata(stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusPastDue, start), testUserID)
	env.api.putSubscription(past)
	legacy := map[string]interface{}{"id": "in_2", "object": "invoice", "subscription": testSubscriptionID}
	w = env.deliver(t, "evt_failed", "invoice.payment_failed", env.now.Add(time.Minute), legacy)
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusWarning {
		t.Fatalf("Expected warning, got %q", got)
	}

	ms := env.membership(t, testUserID)
	if ms.Status != community.StatusPastDue || !ms.Active {
		t.Errorf("Expected past_due member keeping access, got %+v", ms)
	}

	oneOff := map[string]interface{}{"id": "in_3", "object": "invoice", "subscription": nil}
	w = env.deliver(t, "evt_one_off", "invoice.payment_succeeded", env.now, oneOff)
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusIgnored {
		t.Fatalf("Expected non-subscription invoice to be ignored, got %q", got)
	}
}

func TestWebhook_UnknownEventIgnored(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.deliver(t, "evt_x", "customer.created", env.now, map[string]string{"id": testCustomerID})
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusIgnored {
		t.Fatalf("Expected ignored, got %q", got)
	}
}

func TestWebhook_CallbackFailureIsRetried(t *testing.T) {
	var mu sync.Mutex
	var events []billing.WebhookEvent
	fail := true
	env := newTestEnv(t, func(c *Config) {
		c.WebhookCallback = func(_ context.Context, event billing.WebhookEvent) error {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, event)
			if fail {
				return errors.New("downstream unavailable")
			}
			return nil
		}
	})
	sub := withUserMetadata(stripeSubscription(testSubscriptionID, testCustomerID, stripe.SubscriptionStatusActive, env.now), testUserID)

	expectCode(t, env.deliver(t, "evt_1", "customer.subscription.created", env.now, sub), http.StatusInternalServerError)

	mu.Lock()
	fail = false
	mu.Unlock()
	// The record was stored; the redelivery is a reconciliation duplicate and skips the callback.
	w := env.deliver(t, "evt_1", "customer.subscription.created", env.now, sub)
	expectCode(t, w, http.StatusOK)
	if got := responseStatus(t, w); got != statusSkipped {
		t.Fatalf("Expected skipped, got %q", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("Expected one callback, got %d", len(events))
	}
	ev := events[0]
	if ev.UserID != testUserID || ev.SubscriptionID != testSubscriptionID || ev.Provider != providerName {
		t.Errorf("Unexpected callback event: %+v", ev)
	}
	if ev.PreviousTier != "reader" || ev.NewTier != "wall" || ev.NewStatus != "active" || ev.PreviousStatus != "" {
		t.Errorf("Unexpected tier/status transition: %+v", ev)
	}
	if ev.EventType != "customer.subscription.created" || ev.ExpiresAt == nil {
		t.Errorf("Unexpected event details: %+v", ev)
	}
}

func TestWebhook_RequestValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	handler := env.provider.WebhookHandler()

	t.Run("method", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/stripe", http.NoBody))
		expectCode(t, w, http.StatusMethodNotAllowed)
		if w.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Error("Expected security headers")
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
		req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		expectCode(t, w, http.StatusUnauthorized)
	})

	t.Run("signature error is typed", func(t *testing.T) {
		_, err := env.provider.verifyEvent([]byte(`{"id":"evt_1"}`), "t=1,v1=deadbeef")
		if !errors.Is(err, billing.ErrInvalidWebhookSignature) {
			t.Errorf("Expected ErrInvalidWebhookSignature, got %v", err)
		}

		signed := signedRequest(eventPayload(t, "evt_ok", "customer.created", env.now, map[string]string{"id": "cus_1"}))
		payload, _ := io.ReadAll(signed.Body)
		if _, err := env.provider.verifyEvent(payload, signed.Header.Get("Stripe-Signature")); err != nil {
			t.Errorf("Expected valid signature to verify, got %v", err)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", http.NoBody))
		expectCode(t, w, http.StatusBadRequest)
	})

	t.Run("too large", func(t *testing.T) {
		body := strings.NewReader(strings.Repeat("x", maxWebhookBodyBytes+1))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", body))
		expectCode(t, w, http.StatusRequestEntityTooLarge)
	})

	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, func(c *Config) { c.StripeWebhookSecret = "" })
		w := httptest.NewRecorder()
		env.provider.WebhookHandler().ServeHTTP(w, signedRequest([]byte(`{}`)))
		expectCode(t, w, http.StatusServiceUnavailable)
	})
}

func TestWebhook_RateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RateLimitRequests = 2 })
	handler := env.provider.WebhookHandler()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/stripe", http.NoBody))
		codes = append(codes, w.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("Expected third request to be rate limited, got %v", codes)
	}
}

func TestWebhook_StripeOutage(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.BreakerThreshold = 2
		c.BreakerResetTimeout = time.Hour
	})
	env.api.setErr(errStripeDown)
	invoice := map[string]interface{}{"id": "in_1", "object": "invoice", "subscription": testSubscriptionID}

	for i := 0; i < 3; i++ {
		expectCode(t, env.deliver(t, "evt_inv", "invoice.payment_succeeded", env.now, invoice), http.StatusInternalServerError)
	}
	// The third delivery failed fast without reaching Stripe.
	if n := env.api.callCount("GetSubscription"); n != 2 {
		t.Errorf("Expected 2 API calls before the circuit opened, got %d", n)
	}
}
