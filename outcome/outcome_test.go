package outcome_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/chainworks/steward/outcome"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   outcome.Class
	}{
		{200, outcome.Success},
		{201, outcome.Success},
		{204, outcome.Success},
		{400, outcome.PermanentFailure},
		{402, outcome.PermanentFailure},
		{404, outcome.PermanentFailure},
		{409, outcome.PermanentFailure},
		{422, outcome.PermanentFailure},
		{429, outcome.TransientFailure},
		{500, outcome.TransientFailure},
		{502, outcome.TransientFailure},
		{503, outcome.TransientFailure},
	}

	for _, tt := range tests {
		if got := outcome.ClassifyStatus(tt.status); got != tt.want {
			t.Errorf("ClassifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestClassifyErr(t *testing.T) {
	if got := outcome.ClassifyErr(nil); got != outcome.Success {
		t.Errorf("ClassifyErr(nil) = %q, want success", got)
	}
	if got := outcome.ClassifyErr(context.DeadlineExceeded); got != outcome.TransientFailure {
		t.Errorf("ClassifyErr(deadline) = %q, want transient", got)
	}
	var netErr net.Error = &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	if got := outcome.ClassifyErr(netErr); got != outcome.TransientFailure {
		t.Errorf("ClassifyErr(net) = %q, want transient", got)
	}
	if got := outcome.ClassifyErr(errors.New("bad payload")); got != outcome.PermanentFailure {
		t.Errorf("ClassifyErr(other) = %q, want permanent", got)
	}
}

func TestTerminal(t *testing.T) {
	if !outcome.Success.Terminal() {
		t.Error("success should be terminal")
	}
	if !outcome.PermanentFailure.Terminal() {
		t.Error("permanent failure should be terminal")
	}
	if outcome.TransientFailure.Terminal() {
		t.Error("transient failure should not be terminal")
	}
}

func TestConstructors(t *testing.T) {
	ok := outcome.Successf("charged", "ch_123", []byte(`{"id":"ch_123"}`))
	if ok.Class != outcome.Success || ok.ProviderRef != "ch_123" {
		t.Errorf("unexpected success outcome: %+v", ok)
	}
	if ok.RecordedAt.IsZero() || time.Since(ok.RecordedAt) > time.Minute {
		t.Errorf("RecordedAt not stamped: %v", ok.RecordedAt)
	}

	tr := outcome.Transient("provider-timeout", "no response in 5s")
	if tr.Class != outcome.TransientFailure || tr.Code != "provider-timeout" {
		t.Errorf("unexpected transient outcome: %+v", tr)
	}

	pm := outcome.Permanent("card-declined", "insufficient funds", nil)
	if pm.Class != outcome.PermanentFailure || pm.Code != "card-declined" {
		t.Errorf("unexpected permanent outcome: %+v", pm)
	}
}
