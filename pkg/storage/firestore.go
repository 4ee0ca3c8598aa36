package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/log"
	"github.com/Benedikt-Kuenzel/Electricity-Flow-Card/pkg/types"
)

// firestoreBatchSize stays below the Firestore limit of 500 writes per batch.
const firestoreBatchSize = 400

// FirestoreSource implements Database using Google Cloud Firestore.
// Buckets are stored hourly under statistics/{id}/hourly/{RFC3339 start} and
// statistics/{id} keeps the start of the newest bucket.
type FirestoreSource struct {
	client    *firestore.Client
	projectID string
	database  string

	// location cuts day and month buckets, it should match the time zone of
	// Home Assistant
	location *time.Location
}

var _ Database = (*FirestoreSource)(nil)

// configuredFirestore sets up the Firestore source.
// It registers flags for configuration.
func configuredFirestore() *FirestoreSource {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	timezone := lflag.String("firestore-timezone", "Local", "Time zone used to cut day and month statistics (e.g. Europe/Berlin)")

	f := &FirestoreSource{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			panic(fmt.Sprintf("invalid firestore-timezone %q: %v", *timezone, err))
		}
		f.location = loc

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the source is properly configured.
func (f *FirestoreSource) Validate() error {
	// the project can be detected from the environment so nothing is required
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the source methods.
func (f *FirestoreSource) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreSource) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreSource) getDoc(statisticID string) (*firestore.DocumentRef, error) {
	if statisticID == "" {
		return nil, fmt.Errorf("statisticID cannot be empty")
	}
	return f.client.Collection("statistics").Doc(statisticID), nil
}

func (f *FirestoreSource) getCollection(statisticID string) (*firestore.CollectionRef, error) {
	doc, err := f.getDoc(statisticID)
	if err != nil {
		return nil, err
	}
	return doc.Collection("hourly"), nil
}

// UpsertBuckets adds or updates hourly buckets. The document ID is the
// RFC3339 start of the bucket so re-imports overwrite.
func (f *FirestoreSource) UpsertBuckets(ctx context.Context, statisticID string, buckets []types.Bucket) error {
	coll, err := f.getCollection(statisticID)
	if err != nil {
		return err
	}
	var latest time.Time
	for _, b := range buckets {
		if b.Start.After(latest) {
			latest = b.Start
		}
	}
	for len(buckets) > 0 {
		n := min(len(buckets), firestoreBatchSize)
		if err := f.writeBuckets(ctx, coll, statisticID, buckets[:n]); err != nil {
			return err
		}
		buckets = buckets[n:]
	}
	if latest.IsZero() {
		return nil
	}
	return f.advanceLatest(ctx, statisticID, latest)
}

// advanceLatest moves the latest marker of a statistic forward. Re-imports of
// older buckets leave it alone.
func (f *FirestoreSource) advanceLatest(ctx context.Context, statisticID string, latest time.Time) error {
	ref, err := f.getDoc(statisticID)
	if err != nil {
		return err
	}
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			if cur, err := doc.DataAt("latest"); err == nil {
				if t, ok := cur.(time.Time); ok && !latest.After(t) {
					return nil
				}
			}
		}
		return tx.Set(ref, map[string]interface{}{
			"latest": latest,
		}, firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("failed to update latest bucket of %s: %w", statisticID, err)
	}
	return nil
}

func (f *FirestoreSource) writeBuckets(ctx context.Context, coll *firestore.CollectionRef, statisticID string, buckets []types.Bucket) error {
	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(buckets))
	for _, b := range buckets {
		if b.Start.IsZero() {
			bw.End()
			return fmt.Errorf("bucket for %s missing start", statisticID)
		}
		jsonBytes, err := json.Marshal(b)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to marshal bucket: %w", err)
		}
		docID := b.Start.UTC().Format(time.RFC3339)
		job, err := bw.Set(coll.Doc(docID), map[string]interface{}{
			"json":      string(jsonBytes),
			"timestamp": b.Start,
		})
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue bucket %s: %w", docID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to upsert buckets of %s: %w", statisticID, err)
		}
	}
	return nil
}

// GetLatestBucketTime returns the start of the newest stored bucket.
func (f *FirestoreSource) GetLatestBucketTime(ctx context.Context, statisticID string) (time.Time, error) {
	ref, err := f.getDoc(statisticID)
	if err != nil {
		return time.Time{}, err
	}
	doc, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to fetch statistic doc %s: %w", statisticID, err)
	}
	ts, err := doc.DataAt("latest")
	if err != nil {
		return time.Time{}, fmt.Errorf("statistic doc %s missing 'latest' field: %w", doc.Ref.ID, err)
	}
	t, ok := ts.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("statistic doc %s 'latest' field is not a time", doc.Ref.ID)
	}
	return t, nil
}

func (f *FirestoreSource) getBuckets(ctx context.Context, statisticID string, start, end time.Time) ([]types.Bucket, error) {
	startDocID := start.Truncate(time.Hour).UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(statisticID)
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var buckets []types.Bucket
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating buckets of %s: %w", statisticID, err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "bucket doc missing json", slog.String("docID", doc.Ref.ID), slog.String("statisticID", statisticID), slog.Any("err", err))
			return nil, fmt.Errorf("bucket doc %s missing 'json' field: %w", doc.Ref.ID, err)
		}

		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "bucket doc json not string", slog.String("docID", doc.Ref.ID), slog.String("statisticID", statisticID))
			return nil, fmt.Errorf("bucket doc %s 'json' field is not string", doc.Ref.ID)
		}

		var b types.Bucket
		if err := json.Unmarshal([]byte(jsonStr), &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bucket (id=%s): %w", doc.Ref.ID, err)
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// StatisticsDuringPeriod implements stats.Source. Stored hourly buckets are
// rolled up into the requested period.
func (f *FirestoreSource) StatisticsDuringPeriod(ctx context.Context, start, end time.Time, period types.Period, ids []string) (types.Statistics, error) {
	out := make(types.Statistics, len(ids))
	for _, id := range ids {
		buckets, err := f.getBuckets(ctx, id, start, end)
		if err != nil {
			return nil, err
		}
		if len(buckets) == 0 {
			continue
		}
		out[id] = Rollup(buckets, period, f.location)
	}
	return out, nil
}
