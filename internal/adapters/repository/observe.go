package repository

import (
	"errors"
	"time"

	"github.com/okian/backr/internal/domain/model"
	"github.com/okian/backr/pkg/metrics"
)

// Observe records the latency of one store call. Not-found results are not
// counted as failures.
func Observe(driver, operation string, start time.Time, err error) {
	failed := err != nil && !errors.Is(err, model.ErrNotFound)
	metrics.RecordStoreOperation(driver, operation, float64(time.Since(start).Microseconds())/1000, failed)
}
