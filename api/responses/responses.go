package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/angelmondragon/peptidecrm-backend/pkg/errors"
	"github.com/angelmondragon/peptidecrm-backend/pkg/logger"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	meta := pkgerrors.MetadataFor(typed.Code())

	payload := ErrorEnvelope{
		Error: APIError{
			Code:    string(typed.Code()),
			Message: meta.PublicMessageFor(typed),
		},
	}

	if meta.DetailsAllowed {
		if details := typed.Details(); details != nil {
			payload.Error.Details = details
		}
	}

	logFailure(ctx, logg, "request.error", err)
	writeJSON(w, meta.HTTPStatus, payload)
}

// WriteWebhookAck answers a webhook sender with 200 and the given outcome.
func WriteWebhookAck(w http.ResponseWriter, ack WebhookAck) {
	ack.Received = true
	writeJSON(w, http.StatusOK, ack)
}

// WriteWebhookRejected answers an unverified or unreadable delivery.
func WriteWebhookRejected(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, webhookRejection{Error: msg})
}

// WriteWebhookMasked logs err in full and answers 200 so the sender does not
// retry a delivery whose failure is on our side.
func WriteWebhookMasked(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	logFailure(ctx, logg, "webhook.processing_failed", err)
	writeJSON(w, http.StatusOK, WebhookAck{Received: true, Error: "Internal processing error"})
}

func logFailure(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	dump := pkgerrors.Dump(err)

	fields := map[string]any{
		"error":         dump.TopMessage,
		"error_code":    dump.Code,
		"error_chain":   dump.Chain,
		"pg_code":       dump.PGCode,
		"pg_detail":     dump.PGDetail,
		"pg_message":    dump.PGMessage,
		"pg_table":      dump.PGTable,
		"pg_column":     dump.PGColumn,
		"pg_constraint": dump.PGConstraint,
		"sqlite_code":   dump.SQLiteCode,
		"retryable":     pkgerrors.Retryable(err),
	}

	if typed := pkgerrors.As(err); typed != nil {
		if dm, ok := typed.Details().(map[string]any); ok {
			if step, ok := dm["step"]; ok {
				fields["step"] = step
			}
		}
	}

	ctx = logg.WithFields(ctx, fields)
	logg.Error(ctx, msg, err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
