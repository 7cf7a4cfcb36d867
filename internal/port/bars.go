package port

import (
	"context"
	"time"

	"github.com/olyamironova/paper-engine/internal/domain"
)

// BarSource serves historical bars in ascending time order, bounds inclusive.
type BarSource interface {
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}
