package webhook_test

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/outcome"
	"github.com/chainworks/steward/store/memory"
	"github.com/chainworks/steward/webhook"
)

type fakeResumer struct {
	calls []string
	err   error
}

func (f *fakeResumer) Resume(_ context.Context, correlationID string, _ *outcome.Outcome) error {
	f.calls = append(f.calls, correlationID)
	return f.err
}

func newTestIngress(resumer *fakeResumer, st webhook.Store) *webhook.Ingress {
	in := webhook.NewIngress(resumer, st, slog.New(slog.DiscardHandler))
	in.Register("payfort", webhook.PayfortSettlement)
	in.Register("training-connect", webhook.TrainingConnectUpload)
	return in
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCallbackResumesInstance(t *testing.T) {
	resumer := &fakeResumer{}
	st := memory.New()
	h := newTestIngress(resumer, st).Handler()

	rec := post(t, h, "/hooks/payfort", `{"charge_id":"ch-42","status":"settled"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(resumer.calls) != 1 || resumer.calls[0] != "ch-42" {
		t.Fatalf("resume calls = %v, want [ch-42]", resumer.calls)
	}

	ds, err := st.ListDeliveries(context.Background(), "ch-42")
	if err != nil {
		t.Fatal(err)
	}
	if len(ds) != 1 || !ds[0].Applied || ds[0].Provider != "payfort" {
		t.Fatalf("delivery = %+v, want applied payfort record", ds[0])
	}
}

func TestDuplicateCallbackAcknowledged(t *testing.T) {
	resumer := &fakeResumer{err: fmt.Errorf("wrap: %w", steward.ErrNotAwaiting)}
	st := memory.New()
	h := newTestIngress(resumer, st).Handler()

	rec := post(t, h, "/hooks/payfort", `{"charge_id":"ch-42","status":"settled"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for duplicate delivery", rec.Code)
	}

	ds, _ := st.ListDeliveries(context.Background(), "ch-42")
	if len(ds) != 1 || ds[0].Applied {
		t.Fatalf("delivery = %+v, want recorded but not applied", ds[0])
	}
}

func TestUnparseableCallbackRejected(t *testing.T) {
	resumer := &fakeResumer{}
	h := newTestIngress(resumer, memory.New()).Handler()

	rec := post(t, h, "/hooks/payfort", `{"status":"settled"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing charge_id", rec.Code)
	}
	if len(resumer.calls) != 0 {
		t.Fatal("resume called for unparseable payload")
	}
}

func TestUnknownProviderRejected(t *testing.T) {
	h := newTestIngress(&fakeResumer{}, memory.New()).Handler()

	rec := post(t, h, "/hooks/nobody", `{}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestResumeFailureReturnsServerError(t *testing.T) {
	resumer := &fakeResumer{err: fmt.Errorf("store down")}
	h := newTestIngress(resumer, memory.New()).Handler()

	rec := post(t, h, "/hooks/payfort", `{"charge_id":"ch-1","status":"settled"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 so the provider redelivers", rec.Code)
	}
}

func TestPayfortSettlementParsing(t *testing.T) {
	corr, out, err := webhook.PayfortSettlement([]byte(`{"charge_id":"ch-1","status":"declined","decline_code":"insufficient-funds"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if corr != "ch-1" || out.Class != outcome.PermanentFailure || out.Code != "insufficient-funds" {
		t.Fatalf("parsed = (%q, %+v)", corr, out)
	}

	_, out, err = webhook.PayfortSettlement([]byte(`{"charge_id":"ch-1","status":"pending"}`))
	if err != nil || out.Class != outcome.TransientFailure {
		t.Fatalf("pending settlement = (%+v, %v), want transient", out, err)
	}
}

func TestTrainingConnectUploadParsing(t *testing.T) {
	corr, out, err := webhook.TrainingConnectUpload([]byte(`{"batch_id":"b-7","status":"processed"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if corr != "b-7" || out.Class != outcome.Success || out.Code != "certificates-synced" {
		t.Fatalf("parsed = (%q, %+v)", corr, out)
	}

	if _, _, err := webhook.TrainingConnectUpload([]byte(`{"status":"processed"}`)); err == nil {
		t.Fatal("expected error for missing batch_id")
	}
}
