// Package mongo provides the MongoDB audit archive of settled ledger
// entries. The archive is append-only and fed by the settlement outbox; it
// never participates in balance computation or authorization decisions.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lumagen/credit-engine/internal/domain/ledger"
)

const (
	// ArchiveCollectionName is the name of the archive collection in MongoDB
	ArchiveCollectionName = "ledger_archive"
)

// ErrEntryNotArchived indicates the entry has not reached the archive yet
type ErrEntryNotArchived struct {
	EntryID uuid.UUID
}

func (e ErrEntryNotArchived) Error() string {
	return "ledger entry not archived: " + e.EntryID.String()
}

// Is implements the errors.Is interface for ErrEntryNotArchived
func (e ErrEntryNotArchived) Is(target error) bool {
	t, ok := target.(ErrEntryNotArchived)
	if !ok {
		return false
	}
	if t.EntryID == uuid.Nil {
		return true
	}
	return e.EntryID == t.EntryID
}

// ArchiveRepository stores settled ledger entries in MongoDB
type ArchiveRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewArchiveRepository creates a new MongoDB archive repository
func NewArchiveRepository(logger *slog.Logger, db *mongo.Database) *ArchiveRepository {
	return &ArchiveRepository{
		db:     db,
		logger: logger,
	}
}

// Archive stores a settled entry after checking for duplicates, so outbox
// redelivery never produces a second archive document.
func (r *ArchiveRepository) Archive(ctx context.Context, entry *ledger.Entry) error {
	collection := r.db.Collection(ArchiveCollectionName)

	existing, err := r.GetByEntryID(ctx, entry.ID)
	if err != nil && !errors.Is(err, ErrEntryNotArchived{}) {
		r.logger.Error("Failed to check for existing archive document",
			"entry_id", entry.ID.String(),
			"error", err)
		return fmt.Errorf("failed to check for existing archive document: %w", err)
	}

	if existing != nil {
		// Redelivered task; the entry is already archived.
		return nil
	}

	if _, err := collection.InsertOne(ctx, entry); err != nil {
		r.logger.Error("Failed to archive ledger entry",
			"entry_id", entry.ID.String(),
			"error", err)
		return fmt.Errorf("failed to archive ledger entry: %w", err)
	}

	return nil
}

// GetByEntryID retrieves an archived entry by its ledger entry id.
// Returns ErrEntryNotArchived if no document exists for the entry.
func (r *ArchiveRepository) GetByEntryID(ctx context.Context, entryID uuid.UUID) (*ledger.Entry, error) {
	collection := r.db.Collection(ArchiveCollectionName)

	filter := bson.M{"id": entryID}
	var entry ledger.Entry
	err := collection.FindOne(ctx, filter).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrEntryNotArchived{EntryID: entryID}
		}
		r.logger.Error("Failed to get archived ledger entry",
			"entry_id", entryID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get archived ledger entry: %w", err)
	}

	return &entry, nil
}

// GetByAccountID retrieves archived entries for an account, newest first
func (r *ArchiveRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	collection := r.db.Collection(ArchiveCollectionName)

	filter := bson.M{"account_id": accountID}
	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to find archived ledger entries",
			"account_id", accountID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to find archived ledger entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*ledger.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		r.logger.Error("Failed to decode archived ledger entries",
			"account_id", accountID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to decode archived ledger entries: %w", err)
	}

	return entries, nil
}

// GetByTimeRange retrieves archived entries within a time window, for
// reconciliation and reporting
func (r *ArchiveRepository) GetByTimeRange(ctx context.Context, startTime, endTime time.Time, limit, offset int) ([]*ledger.Entry, error) {
	collection := r.db.Collection(ArchiveCollectionName)

	filter := bson.M{
		"created_at": bson.M{
			"$gte": startTime,
			"$lte": endTime,
		},
	}
	opts := options.Find().
		SetSort(bson.M{"created_at": 1}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to find archived ledger entries by time range", "error", err)
		return nil, fmt.Errorf("failed to find archived ledger entries by time range: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*ledger.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		r.logger.Error("Failed to decode archived ledger entries by time range", "error", err)
		return nil, fmt.Errorf("failed to decode archived ledger entries by time range: %w", err)
	}

	return entries, nil
}
