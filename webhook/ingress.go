package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/outcome"
)

// maxCallbackBody caps inbound callback bodies.
const maxCallbackBody = 256 << 10

// Parser maps one provider's callback payload to a correlation id and
// a step outcome. Returning an error means the payload is structurally
// invalid for this provider.
type Parser func(payload []byte) (correlationID string, out *outcome.Outcome, err error)

// Resumer is the orchestrator surface the ingress needs.
type Resumer interface {
	Resume(ctx context.Context, correlationID string, out *outcome.Outcome) error
}

// Ingress is the inbound callback endpoint for all providers.
type Ingress struct {
	resumer    Resumer
	deliveries Store
	parsers    map[string]Parser
	logger     *slog.Logger
}

// NewIngress creates an Ingress. deliveries may be nil to skip the
// audit trail.
func NewIngress(resumer Resumer, deliveries Store, logger *slog.Logger) *Ingress {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{
		resumer:    resumer,
		deliveries: deliveries,
		parsers:    make(map[string]Parser),
		logger:     logger,
	}
}

// Register installs the parser for a provider's callback path.
func (in *Ingress) Register(provider string, p Parser) {
	in.parsers[provider] = p
}

// Handler returns the HTTP handler serving POST /hooks/{provider}.
func (in *Ingress) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /hooks/{provider}", in.handleCallback)
	return mux
}

func (in *Ingress) handleCallback(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	parser, ok := in.parsers[provider]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown provider %q", provider), http.StatusNotFound)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	d := &Delivery{
		ID:         id.NewDeliveryID(),
		Provider:   provider,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}

	correlationID, out, parseErr := parser(payload)
	if parseErr != nil {
		d.Note = "unparseable: " + parseErr.Error()
		in.record(r.Context(), d)
		in.logger.Warn("unparseable callback",
			slog.String("provider", provider),
			slog.String("error", parseErr.Error()),
		)
		http.Error(w, "unparseable payload", http.StatusBadRequest)
		return
	}

	d.CorrelationID = correlationID
	d.Class = out.Class
	d.Code = out.Code

	err = in.resumer.Resume(r.Context(), correlationID, out)
	switch {
	case err == nil:
		d.Applied = true
		in.record(r.Context(), d)
		w.WriteHeader(http.StatusOK)

	case errors.Is(err, steward.ErrNotAwaiting):
		// Duplicate or late delivery. Acknowledge so the provider
		// stops redelivering; the state machine stays untouched.
		d.Note = "no instance awaiting this correlation"
		in.record(r.Context(), d)
		in.logger.Info("callback acknowledged without effect",
			slog.String("provider", provider),
			slog.String("correlation_id", correlationID),
		)
		w.WriteHeader(http.StatusOK)

	default:
		d.Note = "resume failed: " + err.Error()
		in.record(r.Context(), d)
		in.logger.Error("callback resume failed",
			slog.String("provider", provider),
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "resume failed", http.StatusInternalServerError)
	}
}

func (in *Ingress) record(ctx context.Context, d *Delivery) {
	if in.deliveries == nil {
		return
	}
	if err := in.deliveries.RecordDelivery(ctx, d); err != nil {
		in.logger.Error("record delivery",
			slog.String("provider", d.Provider),
			slog.String("error", err.Error()),
		)
	}
}
