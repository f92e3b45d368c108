package stripe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/inkwell/pkg/billing"
	"github.com/mihaimyh/inkwell/pkg/community"
	"github.com/mihaimyh/inkwell/storage/memory"
)

const (
	testUserID              = "user_123"
	testCustomerID          = "cus_123"
	testSubscriptionID      = "sub_123"
	testPriceIDWall         = "price_wall_monthly"
	testPriceIDPatron       = "price_patron_monthly"
	testStripeWebhookSecret = "whsec_test_secret"
)

var errStripeDown = &stripe.Error{HTTPStatusCode: http.StatusServiceUnavailable, Msg: "stripe unavailable"}

// fakeAPI is an in-memory stand-in for the Stripe API
type fakeAPI struct {
	mu sync.Mutex

	subscriptions map[string]*stripe.Subscription
	customers     map[string]*stripe.Customer
	checkouts     []*stripe.CheckoutSessionCreateParams
	portals       []*stripe.BillingPortalSessionCreateParams
	calls         map[string]int

	// err is returned by every call when set
	err error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		subscriptions: make(map[string]*stripe.Subscription),
		customers:     make(map[string]*stripe.Customer),
		calls:         make(map[string]int),
	}
}

func (f *fakeAPI) begin(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.err
}

func (f *fakeAPI) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeAPI) putSubscription(sub *stripe.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[sub.ID] = sub
}

func (f *fakeAPI) putCustomer(cust *stripe.Customer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers[cust.ID] = cust
}

func (f *fakeAPI) GetSubscription(_ context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if err := f.begin("GetSubscription"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[subscriptionID]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "no such subscription"}
	}
	return sub, nil
}

func (f *fakeAPI) SetSubscriptionUserID(_ context.Context, subscriptionID, userID string) (*stripe.Subscription, error) {
	if err := f.begin("SetSubscriptionUserID"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[subscriptionID]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "no such subscription"}
	}
	if sub.Metadata == nil {
		sub.Metadata = make(map[string]string)
	}
	sub.Metadata[metadataUserID] = userID
	return sub, nil
}

func (f *fakeAPI) ListSubscriptions(_ context.Context, customerID string) ([]*stripe.Subscription, error) {
	if err := f.begin("ListSubscriptions"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var subs []*stripe.Subscription
	for _, sub := range f.subscriptions {
		if sub.Customer != nil && sub.Customer.ID == customerID {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (f *fakeAPI) GetCustomer(_ context.Context, customerID string) (*stripe.Customer, error) {
	if err := f.begin("GetCustomer"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cust, ok := f.customers[customerID]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "no such customer"}
	}
	return cust, nil
}

func (f *fakeAPI) SearchCustomerByUserID(_ context.Context, userID string) (*stripe.Customer, error) {
	if err := f.begin("SearchCustomerByUserID"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cust := range f.customers {
		if cust.Metadata[metadataUserID] == userID {
			return cust, nil
		}
	}
	return nil, billing.ErrCustomerNotFound
}

func (f *fakeAPI) CreateCheckoutSession(
	_ context.Context, params *stripe.CheckoutSessionCreateParams,
) (*stripe.CheckoutSession, error) {
	if err := f.begin("CreateCheckoutSession"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, params)
	id := fmt.Sprintf("cs_test_%d", len(f.checkouts))
	return &stripe.CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (f *fakeAPI) CreatePortalSession(
	_ context.Context, params *stripe.BillingPortalSessionCreateParams,
) (*stripe.BillingPortalSession, error) {
	if err := f.begin("CreatePortalSession"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.portals = append(f.portals, params)
	return &stripe.BillingPortalSession{ID: "bps_test", URL: "https://billing.stripe.test/session/" + *params.Customer}, nil
}

// testEnv bundles a provider with its fake API and manager
type testEnv struct {
	provider *Provider
	api      *fakeAPI
	manager  *community.Manager
	storage  *memory.Storage
	now      time.Time
}

// newTestEnv creates a provider backed by memory storage and a fake Stripe API.
// mutate may adjust the provider config before construction.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvAt(t, time.Now().UTC().Truncate(time.Second), mutate)
}

// newTestEnvAt is newTestEnv with the manager clock fixed at now
func newTestEnvAt(t *testing.T, now time.Time, mutate func(*Config)) *testEnv {
	t.Helper()
	clock := func() time.Time { return now }
	storage := memory.New(memory.WithClock(clock))
	manager, err := community.NewManager(storage, storage, &community.Config{
		Now: clock,
	})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	api := newFakeAPI()
	config := Config{
		Config: billing.Config{
			Manager: manager,
			TierMapping: map[string]string{
				testPriceIDPatron: "patron",
			},
		},
		StripeWebhookSecret: testStripeWebhookSecret,
		WallPriceID:         testPriceIDWall,
		TierWeights: map[string]int{
			"wall":   50,
			"patron": 100,
		},
		API: api,
	}
	if mutate != nil {
		mutate(&config)
	}

	provider, err := NewProvider(config)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	return &testEnv{provider: provider, api: api, manager: manager, storage: storage, now: now}
}

// stripeSubscription builds an active Community Wall subscription whose
// billing period started at start.
func stripeSubscription(id, customerID string, status stripe.SubscriptionStatus, start time.Time) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       id,
		Status:   status,
		Created:  start.Unix(),
		Customer: &stripe.Customer{ID: customerID},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					ID:                 "si_" + id,
					Price:              &stripe.Price{ID: testPriceIDWall},
					CurrentPeriodStart: start.Unix(),
					CurrentPeriodEnd:   start.AddDate(0, 1, 0).Unix(),
				},
			},
		},
	}
}

func withUserMetadata(sub *stripe.Subscription, userID string) *stripe.Subscription {
	sub.Metadata = map[string]string{metadataUserID: userID}
	return sub
}

// eventPayload encodes a Stripe event carrying obj as its data object
func eventPayload(t *testing.T, id, eventType string, created time.Time, obj interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("Failed to marshal event object: %v", err)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     created.Unix(),
		"api_version": stripe.APIVersion,
		"data": map[string]interface{}{
			"object": json.RawMessage(raw),
		},
	})
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	return payload
}

// signedRequest builds a webhook request signed with the test secret
func signedRequest(payload []byte) *http.Request {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testStripeWebhookSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// deliver sends a signed event to the webhook handler and returns the recorder
func (e *testEnv) deliver(t *testing.T, id, eventType string, created time.Time, obj interface{}) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.provider.WebhookHandler().ServeHTTP(w, signedRequest(eventPayload(t, id, eventType, created, obj)))
	return w
}

func responseStatus(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return body.Status
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("Expected status %d, got %d: %s", code, w.Code, w.Body.String())
	}
}

func (e *testEnv) membership(t *testing.T, userID string) *community.Membership {
	t.Helper()
	ms, err := e.manager.Membership(context.Background(), userID)
	if err != nil {
		t.Fatalf("Membership failed: %v", err)
	}
	return ms
}
