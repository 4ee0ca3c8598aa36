package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/stats"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

// Database persists long-term statistics buckets so they can be served
// without a live Home Assistant connection.
type Database interface {
	stats.Source

	// UpsertBuckets adds or updates hourly buckets of a statistic.
	UpsertBuckets(ctx context.Context, statisticID string, buckets []types.Bucket) error
	// GetLatestBucketTime returns the start of the newest stored bucket, or
	// the zero time if none are stored.
	GetLatestBucketTime(ctx context.Context, statisticID string) (time.Time, error)

	// Lifecycle
	Close() error
}

// Provider wraps the configured Database. Database is nil when storage is
// disabled.
type Provider struct {
	Database
}

// Enabled returns true if a storage provider was configured.
func (p *Provider) Enabled() bool {
	return p != nil && p.Database != nil
}

// Configured sets up the Storage provider based on flags.
func Configured() *Provider {
	provider := lflag.String("storage-provider", "", "Storage provider for statistics (available: firestore, empty to disable)")

	var p Provider

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "":
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			p.Database = fs
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
