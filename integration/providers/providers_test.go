package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/integration"
	"github.com/chainworks/steward/outcome"
)

func testCall(capability string, payload string) *integration.Call {
	inst := id.NewInstanceID()
	return &integration.Call{
		Capability:     capability,
		InstanceID:     inst,
		StepName:       "step",
		IdempotencyKey: inst.String() + ":step",
		Payload:        []byte(payload),
	}
}

func TestTrainingConnectVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/students/status" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"record_id":"rec-9","status":"compliant"}`))
	}))
	defer srv.Close()

	p := NewTrainingConnect(srv.URL, "tok", nil)
	out, err := p.Do(context.Background(), testCall("verify-training", `{"student_id":"s-1"}`))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.Class != outcome.Success {
		t.Fatalf("class = %v, want success", out.Class)
	}
	if out.ProviderRef != "rec-9" {
		t.Errorf("provider ref = %q, want rec-9", out.ProviderRef)
	}
}

func TestTrainingConnectRejectsUnknownCapability(t *testing.T) {
	p := NewTrainingConnect("http://unused", "tok", nil)
	if _, err := p.Do(context.Background(), testCall("send-sms", `{}`)); err == nil {
		t.Fatal("expected error for unknown capability")
	}
}

func TestPayfortChargeAccepted(t *testing.T) {
	var gotIdem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdem = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"charge_id":"ch-42","status":"pending"}`))
	}))
	defer srv.Close()

	p := NewPayfort(srv.URL, "key", nil)
	call := testCall("charge-fee", `{"amount_cents":2500}`)
	out, err := p.Do(context.Background(), call)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.Class != outcome.Success || out.ProviderRef != "ch-42" {
		t.Fatalf("outcome = %+v, want accepted charge ch-42", out)
	}
	if gotIdem != call.IdempotencyKey {
		t.Errorf("Idempotency-Key = %q, want %q", gotIdem, call.IdempotencyKey)
	}
}

func TestPayfortChargeDeclined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"decline_code":"insufficient-funds"}`))
	}))
	defer srv.Close()

	p := NewPayfort(srv.URL, "key", nil)
	out, err := p.Do(context.Background(), testCall("charge-fee", `{"amount_cents":2500}`))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.Class != outcome.PermanentFailure {
		t.Fatalf("class = %v, want permanent", out.Class)
	}
	if out.Code != "insufficient-funds" {
		t.Errorf("code = %q, want insufficient-funds", out.Code)
	}
}

func TestPayfortRateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewPayfort(srv.URL, "key", nil)
	out, err := p.Do(context.Background(), testCall("refund-fee", `{"charge_id":"ch-42"}`))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.Class != outcome.TransientFailure {
		t.Fatalf("class = %v, want transient", out.Class)
	}
}

func TestOctoSMSSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/subaccounts/acct-1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var msg smsMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if msg.Source != "Safety Training" || msg.Destination != "+15551230000" {
			t.Errorf("message = %+v", msg)
		}
		if msg.ClientRef == "" {
			t.Error("clientMessageId not set")
		}
		_, _ = w.Write([]byte(`{"umid":"m-7"}`))
	}))
	defer srv.Close()

	p := NewOctoSMS(srv.URL, "acct-1", "tok", "Safety Training", nil)
	out, err := p.Do(context.Background(), testCall("send-sms", `{"destination":"+15551230000","text":"renewal due"}`))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.Class != outcome.Success || out.ProviderRef != "m-7" {
		t.Fatalf("outcome = %+v, want sent m-7", out)
	}
}

func TestOctoSMSBadPayloadIsPermanent(t *testing.T) {
	p := NewOctoSMS("http://unused", "acct-1", "tok", "src", nil)

	out, err := p.Do(context.Background(), testCall("send-sms", `{"text":"no number"}`))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.Class != outcome.PermanentFailure || out.Code != "missing-destination" {
		t.Fatalf("outcome = %+v, want missing-destination", out)
	}
}

func TestMailRelaySend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg struct {
			From string   `json:"from"`
			To   []string `json:"to"`
		}
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if msg.From != "noreply@example.org" || len(msg.To) != 1 {
			t.Errorf("message = %+v", msg)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message_id":"em-3"}`))
	}))
	defer srv.Close()

	p := NewMailRelay(srv.URL, "tok", "noreply@example.org", nil)
	out, err := p.Do(context.Background(), testCall("send-email", `{"to":["hr@example.org"],"subject":"s","body":"b"}`))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.Class != outcome.Success || out.ProviderRef != "em-3" {
		t.Fatalf("outcome = %+v, want queued em-3", out)
	}
}

func TestClassifyServerErrorIsTransient(t *testing.T) {
	out := classify(http.StatusServiceUnavailable, []byte(`oops`), "ok", "id")
	if out.Class != outcome.TransientFailure {
		t.Fatalf("class = %v, want transient", out.Class)
	}
	if out.Code != "http-503" {
		t.Errorf("code = %q, want http-503", out.Code)
	}
}
