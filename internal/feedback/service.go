// internal/feedback/service.go
package feedback

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the feedback service.
type Service interface {
	Submit(ctx context.Context, form ContactForm) (*SubmitResult, error)
	Flush(ctx context.Context) (*FlushResult, error)

	List(ctx context.Context, filter Filter) ([]*Feedback, error)
	Get(ctx context.Context, id uuid.UUID) (*Feedback, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status, actor string) (*Feedback, error)
	Respond(ctx context.Context, id uuid.UUID, in ResponseInput, actor string) (*Feedback, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context) (*Stats, error)
}
