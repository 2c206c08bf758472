package importer

import (
	"context"
	"fmt"

	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

// BucketTotal is one converted seed entry.
type BucketTotal struct {
	Bucket domain.Bucket
	Total  int64
}

// Convert flattens a validated seed. Call ValidateSeedSchema first; Convert
// assumes the schema is valid.
func Convert(schema *SeedSchema) []BucketTotal {
	out := make([]BucketTotal, 0, len(schema.Buckets))
	for _, b := range schema.Buckets {
		year := b.SchoolYear
		if year == "" {
			year = schema.SchoolYear
		}
		out = append(out, BucketTotal{
			Bucket: domain.Bucket{BudgetType: b.BudgetType, SchoolYear: year},
			Total:  *b.Total,
		})
	}
	return out
}

// TotalSetter is satisfied by *ledger.Ledger.
type TotalSetter interface {
	SetTotal(ctx context.Context, bucket domain.Bucket, total int64) (*domain.BudgetAllocation, error)
}

// Apply sets every total in order and stops at the first failure. Each
// bucket is its own unit of work, so earlier buckets stay applied.
func Apply(ctx context.Context, ledger TotalSetter, totals []BucketTotal) ([]*domain.BudgetAllocation, error) {
	applied := make([]*domain.BudgetAllocation, 0, len(totals))
	for _, t := range totals {
		b, err := ledger.SetTotal(ctx, t.Bucket, t.Total)
		if err != nil {
			return applied, fmt.Errorf("setting %s: %w", t.Bucket, err)
		}
		applied = append(applied, b)
	}
	return applied, nil
}
