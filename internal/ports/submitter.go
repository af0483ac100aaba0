package ports

import (
	"context"

	"github.com/ladiesman540/crane-platform/internal/domain"
)

// Submitter delivers one reading to the ingestion gate. It never retries.
type Submitter interface {
	Submit(ctx context.Context, r domain.Reading) domain.Outcome
}
