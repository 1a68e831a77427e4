package billing

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/tiergate/tiergate/internal/store"
	"github.com/tiergate/tiergate/pkg/licensing"
)

const testWebhookSecret = "whsec_test_secret"

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestReconciler(t *testing.T, st *store.Store) *Reconciler {
	t.Helper()
	rc := NewReconciler(st, licensing.NewCodec("test-secret"), 30)
	rc.fetchSubscription = func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
		t.Fatalf("unexpected subscription fetch for %q", id)
		return nil, nil
	}
	return rc
}

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func deliver(t *testing.T, h *WebhookHandler, payload string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedWebhookRequest(t, testWebhookSecret, payload))
	return rec
}

func checkoutCompletedEvent(sessionID, accountID, tier string) string {
	return fmt.Sprintf(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":%q,"mode":"subscription","customer":"cus_1","subscription":"sub_1","payment_status":"paid","client_reference_id":%q,"metadata":{"account_id":%q,"tier":%q}}}}`,
		sessionID, accountID, accountID, tier)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	st := newTestStore(t)
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(t, st))

	payload := checkoutCompletedEvent("cs_1", "alice", "pro")
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader([]byte(payload)))
	req.Header.Set("Stripe-Signature", "t=123,v1=bogus")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusBadRequest, rec.Body.String())
	}

	// No state may change on a rejected delivery.
	a, err := st.Get("alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != nil {
		t.Fatalf("account created from unsigned event: %+v", a)
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	st := newTestStore(t)
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(t, st))

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusBadRequest)
	}
}

func TestWebhookRejectsNonPost(t *testing.T) {
	st := newTestStore(t)
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(t, st))

	req := httptest.NewRequest(http.MethodGet, "/api/webhook", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestWebhookUnconfiguredSecret(t *testing.T) {
	st := newTestStore(t)
	handler := NewWebhookHandler("  ", newTestReconciler(t, st))

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestWebhookCheckoutCompletedGrantsTier(t *testing.T) {
	st := newTestStore(t)
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(t, st))

	rec := deliver(t, handler, checkoutCompletedEvent("cs_1", "alice", "pro"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}

	a, err := st.Get("alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a == nil {
		t.Fatal("account not created")
	}
	if a.Tier != "pro" {
		t.Errorf("tier = %q, want pro", a.Tier)
	}
	if a.LicenseKey == "" || a.ExpiresAt == nil {
		t.Errorf("credential not minted: %+v", a)
	}
	if a.SubscriptionID != "sub_1" || a.CustomerID != "cus_1" {
		t.Errorf("provider ids not recorded: %+v", a)
	}

	tier, _, err := licensing.NewCodec("test-secret").Verify(a.LicenseKey)
	if err != nil || tier != licensing.TierPro {
		t.Errorf("minted credential does not verify: tier=%q err=%v", tier, err)
	}
}

func TestWebhookCheckoutCompletedIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(t, st))

	payload := checkoutCompletedEvent("cs_1", "alice", "diamond")
	if rec := deliver(t, handler, payload); rec.Code != http.StatusOK {
		t.Fatalf("first delivery status=%d", rec.Code)
	}
	first, err := st.Get("alice")
	if err != nil || first == nil {
		t.Fatalf("Get after first delivery: %v", err)
	}

	// Replay of the same delivery converges on the same state.
	if rec := deliver(t, handler, payload); rec.Code != http.StatusOK {
		t.Fatalf("replay status=%d", rec.Code)
	}
	second, err := st.Get("alice")
	if err != nil || second == nil {
		t.Fatalf("Get after replay: %v", err)
	}
	if second.Tier != "diamond" || second.SubscriptionID != first.SubscriptionID {
		t.Errorf("replay diverged: first=%+v second=%+v", first, second)
	}
	if second.PendingCheckoutID != "" || second.PendingTier != "" {
		t.Errorf("pending fields not cleared: %+v", second)
	}
}

func TestWebhookUnknownCorrelationIsAcceptedNoop(t *testing.T) {
	st := newTestStore(t)
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(t, st))

	// No pending checkout, no metadata, no client reference: nothing to
	// correlate, but the provider still gets a 200 so it stops retrying.
	payload := `{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_orphan","mode":"subscription","payment_status":"paid"}}}`
	rec := deliver(t, handler, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d, body=%q", rec.Code, http.StatusOK, rec.Body.String())
	}

	accounts, err := st.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("orphan event created accounts: %+v", accounts)
	}
}

func TestWebhookUnhandledTypeIgnored(t *testing.T) {
	st := newTestStore(t)
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(t, st))

	payload := `{"id":"evt_3","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`
	rec := deliver(t, handler, payload)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want=%d", rec.Code, http.StatusOK)
	}
}

func TestWebhookInvoicePaidRenews(t *testing.T) {
	st := newTestStore(t)
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(t, st))

	// Grant first.
	if rec := deliver(t, handler, checkoutCompletedEvent("cs_1", "alice", "pro")); rec.Code != http.StatusOK {
		t.Fatalf("checkout delivery status=%d", rec.Code)
	}
	granted, _ := st.Get("alice")

	// Mark a pending cancellation, then a renewal payment arrives.
	cancelPayload := `{"id":"evt_4","object":"event","type":"customer.subscription.updated","data":{"object":{"id":"sub_1","status":"active","cancel_at_period_end":true}}}`
	if rec := deliver(t, handler, cancelPayload); rec.Code != http.StatusOK {
		t.Fatalf("cancel delivery status=%d", rec.Code)
	}
	cancelled, _ := st.Get("alice")
	if cancelled.CancelAt == nil {
		t.Fatal("cancellation not recorded")
	}

	invoicePayload := `{"id":"evt_5","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1","customer":"cus_1","subscription":"sub_1","billing_reason":"subscription_cycle"}}}`
	if rec := deliver(t, handler, invoicePayload); rec.Code != http.StatusOK {
		t.Fatalf("invoice delivery status=%d", rec.Code)
	}

	renewed, err := st.Get("alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if renewed.Tier != "pro" {
		t.Errorf("tier = %q, want pro", renewed.Tier)
	}
	if renewed.CancelAt != nil {
		t.Error("paid invoice should clear pending cancellation")
	}
	if renewed.ExpiresAt == nil || granted.ExpiresAt == nil || renewed.ExpiresAt.Before(*granted.ExpiresAt) {
		t.Errorf("renewal did not extend expiry: %v -> %v", granted.ExpiresAt, renewed.ExpiresAt)
	}
}

func TestWebhookInvoicePaidNewAPIShape(t *testing.T) {
	st := newTestStore(t)
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(t, st))

	if rec := deliver(t, handler, checkoutCompletedEvent("cs_1", "alice", "pro")); rec.Code != http.StatusOK {
		t.Fatalf("checkout delivery status=%d", rec.Code)
	}

	// Subscription carried under parent.subscription_details.
	payload := `{"id":"evt_6","object":"event","type":"invoice.payment_succeeded","data":{"object":{"id":"in_2","customer":"cus_1","parent":{"subscription_details":{"subscription":"sub_1"}}}}}`
	if rec := deliver(t, handler, payload); rec.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%q", rec.Code, rec.Body.String())
	}

	a, _ := st.Get("alice")
	if a.Tier != "pro" || a.LicenseKey == "" {
		t.Errorf("renewal through nested subscription id failed: %+v", a)
	}
}

func TestWebhookSubscriptionDeletedKeepsAccessUntilExpiry(t *testing.T) {
	st := newTestStore(t)
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(t, st))

	if rec := deliver(t, handler, checkoutCompletedEvent("cs_1", "alice", "pro")); rec.Code != http.StatusOK {
		t.Fatalf("checkout delivery status=%d", rec.Code)
	}

	payload := `{"id":"evt_7","object":"event","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","status":"canceled"}}}`
	if rec := deliver(t, handler, payload); rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}

	a, _ := st.Get("alice")
	if a.Tier != "pro" || a.LicenseKey == "" {
		t.Errorf("deletion revoked access early: %+v", a)
	}
	if a.CancelAt == nil {
		t.Error("deletion should record a cancellation time")
	}
}

func TestWebhookPaymentFailedIsLogOnly(t *testing.T) {
	st := newTestStore(t)
	handler := NewWebhookHandler(testWebhookSecret, newTestReconciler(t, st))

	if rec := deliver(t, handler, checkoutCompletedEvent("cs_1", "alice", "pro")); rec.Code != http.StatusOK {
		t.Fatalf("checkout delivery status=%d", rec.Code)
	}
	before, _ := st.Get("alice")

	payload := `{"id":"evt_8","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_3","customer":"cus_1","subscription":"sub_1"}}}`
	if rec := deliver(t, handler, payload); rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}

	after, _ := st.Get("alice")
	if after.Tier != before.Tier || after.LicenseKey != before.LicenseKey || after.CancelAt != nil {
		t.Errorf("payment failure mutated state: before=%+v after=%+v", before, after)
	}
}
