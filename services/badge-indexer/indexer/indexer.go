package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"streambadge/integrations/exports"
	"streambadge/integrations/webhooks"
	"streambadge/services/badge-indexer/models"
)

const (
	feedTypeMinted        = "badge.minted"
	feedTypeStatusChanged = "badge.status.changed"
)

// errAlreadyApplied aborts the transaction for a replayed sequence without
// surfacing an error to the subscriber.
var errAlreadyApplied = errors.New("indexer: update already applied")

// FeedUpdate mirrors one entry of the node's websocket status feed.
type FeedUpdate struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

// Config captures the dependencies required to construct an Indexer.
type Config struct {
	DB       *gorm.DB
	Logger   *log.Logger
	Webhooks *webhooks.Dispatcher
	Now      func() time.Time
}

// Indexer persists feed updates into relational history and fans matching
// webhooks out to downstream consumers.
type Indexer struct {
	db       *gorm.DB
	logger   *log.Logger
	webhooks *webhooks.Dispatcher
	now      func() time.Time
}

// New builds a configured indexer.
func New(cfg Config) (*Indexer, error) {
	if cfg.DB == nil {
		return nil, errors.New("indexer: db is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Indexer{
		db:       cfg.DB,
		logger:   logger,
		webhooks: cfg.Webhooks,
		now:      nowFn,
	}, nil
}

// Apply persists one feed update. Replayed sequences are skipped, so the
// subscriber can safely re-deliver after a reconnect. Unparseable updates are
// logged and dropped rather than wedging the stream.
func (ix *Indexer) Apply(ctx context.Context, update FeedUpdate) error {
	if ix == nil {
		return errors.New("indexer not initialised")
	}
	switch update.Type {
	case feedTypeMinted:
		return ix.applyMint(ctx, update)
	case feedTypeStatusChanged:
		return ix.applyStatusChange(ctx, update)
	default:
		return nil
	}
}

func (ix *Indexer) applyMint(ctx context.Context, update FeedUpdate) error {
	observed := time.Unix(update.Timestamp, 0).UTC()
	now := ix.now()
	mint := models.Mint{
		ID:         uuid.New(),
		Sequence:   update.Sequence,
		BadgeID:    update.Attributes["badgeId"],
		Owner:      update.Attributes["owner"],
		ObservedAt: observed,
		CreatedAt:  now,
	}
	err := ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Mint
		err := tx.First(&existing, "sequence = ?", update.Sequence).Error
		if err == nil {
			return errAlreadyApplied
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&mint).Error
	})
	if errors.Is(err, errAlreadyApplied) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("indexer: apply mint: %w", err)
	}
	if ix.webhooks != nil {
		if err := ix.webhooks.EnqueueMinted(webhooks.MintedPayload{
			BadgeID:    mint.BadgeID,
			Owner:      mint.Owner,
			Sequence:   mint.Sequence,
			ObservedAt: observed,
		}); err != nil {
			ix.logger.Printf("badge-indexer: enqueue mint webhook: %v", err)
		}
	}
	return nil
}

func (ix *Indexer) applyStatusChange(ctx context.Context, update FeedUpdate) error {
	windowStart, err := parseUint32Attr(update.Attributes, "start")
	if err != nil {
		ix.logger.Printf("badge-indexer: drop update %d: %v", update.Sequence, err)
		return nil
	}
	windowEnd, err := parseUint32Attr(update.Attributes, "end")
	if err != nil {
		ix.logger.Printf("badge-indexer: drop update %d: %v", update.Sequence, err)
		return nil
	}
	observed := time.Unix(update.Timestamp, 0).UTC()
	now := ix.now()
	change := models.StatusChange{
		ID:          uuid.New(),
		Sequence:    update.Sequence,
		BadgeID:     update.Attributes["badgeId"],
		Holder:      update.Attributes["holder"],
		Account:     update.Attributes["account"],
		Asset:       update.Attributes["asset"],
		Rate:        update.Attributes["rate"],
		WindowStart: int64(windowStart),
		WindowEnd:   int64(windowEnd),
		Kind:        update.Attributes["kind"],
		ObservedAt:  observed,
		CreatedAt:   now,
	}
	err = ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.StatusChange
		err := tx.First(&existing, "sequence = ?", update.Sequence).Error
		if err == nil {
			return errAlreadyApplied
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(&change).Error; err != nil {
			return err
		}
		return upsertBadge(tx, change, now)
	})
	if errors.Is(err, errAlreadyApplied) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("indexer: apply status change: %w", err)
	}
	if ix.webhooks != nil {
		if err := ix.webhooks.EnqueueStatusChanged(webhooks.StatusChangedPayload{
			BadgeID:     change.BadgeID,
			Holder:      change.Holder,
			Account:     change.Account,
			Asset:       change.Asset,
			Rate:        change.Rate,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			Kind:        change.Kind,
			Sequence:    change.Sequence,
			ObservedAt:  observed,
		}); err != nil {
			ix.logger.Printf("badge-indexer: enqueue status webhook: %v", err)
		}
	}
	return nil
}

// upsertBadge refreshes the per-badge row with the latest observed state.
func upsertBadge(tx *gorm.DB, change models.StatusChange, now time.Time) error {
	var badge models.Badge
	err := tx.First(&badge, "badge_id = ?", change.BadgeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		badge = models.Badge{
			ID:        uuid.New(),
			BadgeID:   change.BadgeID,
			CreatedAt: now,
		}
	} else if err != nil {
		return err
	}
	if badge.LastSequence > change.Sequence {
		// The row already reflects a newer update.
		return nil
	}
	badge.Holder = change.Holder
	badge.Account = change.Account
	badge.Asset = change.Asset
	badge.Rate = change.Rate
	badge.WindowStart = change.WindowStart
	badge.WindowEnd = change.WindowEnd
	badge.Kind = change.Kind
	badge.LastSequence = change.Sequence
	badge.UpdatedAt = now
	return tx.Save(&badge).Error
}

// Export archives the status changes observed in [start, end) beneath dir.
// Zero bounds are open ended.
func (ix *Indexer) Export(ctx context.Context, dir string, start, end time.Time) (exports.Archive, error) {
	if ix == nil {
		return exports.Archive{}, errors.New("indexer not initialised")
	}
	query := ix.db.WithContext(ctx).Order("sequence asc")
	if !start.IsZero() {
		query = query.Where("observed_at >= ?", start)
	}
	if !end.IsZero() {
		query = query.Where("observed_at < ?", end)
	}
	var rows []models.StatusChange
	if err := query.Find(&rows).Error; err != nil {
		return exports.Archive{}, fmt.Errorf("indexer: load status changes: %w", err)
	}
	entries := make([]exports.StatusEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, exports.StatusEntry{
			Sequence:    row.Sequence,
			BadgeID:     row.BadgeID,
			Holder:      row.Holder,
			Account:     row.Account,
			Asset:       row.Asset,
			Rate:        row.Rate,
			WindowStart: uint32(row.WindowStart),
			WindowEnd:   uint32(row.WindowEnd),
			Kind:        row.Kind,
			ObservedAt:  row.ObservedAt,
		})
	}
	return exports.WriteArchive(dir, end, entries)
}

// ExportLoop periodically archives the status history captured since the
// previous run. It returns when the context is cancelled.
func (ix *Indexer) ExportLoop(ctx context.Context, dir string, interval time.Duration) {
	if ix == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := ix.now()
			archive, err := ix.Export(ctx, dir, last, now)
			if err != nil {
				ix.logger.Printf("badge-indexer: export failed: %v", err)
				continue
			}
			last = now
			ix.logger.Printf("badge-indexer: exported %d status changes to %s", archive.Count, archive.CSVPath)
		}
	}
}

func parseUint32Attr(attrs map[string]string, key string) (uint32, error) {
	raw, ok := attrs[key]
	if !ok || raw == "" {
		return 0, fmt.Errorf("attribute %q missing", key)
	}
	value, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("attribute %q: %w", key, err)
	}
	return uint32(value), nil
}
