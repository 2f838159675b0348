package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/NorikGo/tailormp-sub002/api/responses"
	pkgerrors "github.com/NorikGo/tailormp-sub002/pkg/errors"
	"github.com/NorikGo/tailormp-sub002/pkg/logger"
)

const (
	signatureHeader = "Stripe-Signature"
	maxPayloadBytes = 1 << 20
)

type notificationHandler interface {
	HandleNotification(ctx context.Context, payload []byte, signature string) (string, error)
}

type outcomeResponse struct {
	Outcome string `json:"outcome"`
}

// PaymentWebhook receives signed payment gateway notifications. Any non-2xx
// answer makes the gateway redeliver, so ignored and duplicate events are
// acknowledged with 200.
func PaymentWebhook(processor notificationHandler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if processor == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook processor unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		signature := r.Header.Get(signatureHeader)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInvalidSignature, "webhook signature missing"))
			return
		}

		outcome, err := processor.HandleNotification(ctx, payload, signature)
		if err != nil {
			responses.WriteError(ctx, logg, w, redeliverable(err))
			return
		}
		responses.WriteSuccess(w, outcomeResponse{Outcome: outcome})
	}
}

// redeliverable answers retryable failures with 503 so the gateway keeps
// redelivering, even when the code maps to a 4xx for API callers.
func redeliverable(err error) error {
	typed := pkgerrors.As(err)
	if typed == nil {
		return err
	}
	meta := pkgerrors.MetadataFor(typed.Code())
	if !meta.Retryable || meta.HTTPStatus >= http.StatusInternalServerError {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retry webhook delivery")
}
