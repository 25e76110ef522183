// Package gateway is the boundary to the external SMS/WhatsApp
// provider. The provider is consumed as a send capability only;
// delivery is at-least-once and receipts may be duplicated.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/klaxon/internal/alert"
)

// Receipt is the provider's acknowledgement of an accepted message.
type Receipt struct {
	ID string
}

// Sender delivers one rendered message to one recipient on one channel.
type Sender interface {
	Send(ctx context.Context, ch alert.Channel, recipient, body string) (Receipt, error)
}

// TransientError is a retryable delivery failure: timeouts, throttling,
// provider 5xx responses.
type TransientError struct {
	Detail string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient delivery error: %s", e.Detail)
}

// PermanentError is a non-retryable delivery failure such as an invalid
// recipient. Attempts failing permanently are never retried.
type PermanentError struct {
	Detail string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery error: %s", e.Detail)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
