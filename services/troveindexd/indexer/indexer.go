package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"nhooyr.io/websocket"

	"meridianchain/core/types"
	"meridianchain/services/troveindexd/models"
)

const (
	dialTimeout    = 5 * time.Second
	maxBackoff     = 30 * time.Second
	initialBackoff = time.Second
)

// Indexer consumes the node's websocket event stream and materialises it into
// the query tables. It reconnects with exponential backoff; dropped frames
// during an outage are simply absent from the index.
type Indexer struct {
	db  *gorm.DB
	url string
	log *slog.Logger
}

func New(db *gorm.DB, url string, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{db: db, url: url, log: logger}
}

// Run consumes the stream until the context is cancelled.
func (ix *Indexer) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if err := ix.consume(ctx); err != nil && ctx.Err() == nil {
			ix.log.Warn("event stream interrupted", "error", err, "retry_in", backoff.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (ix *Indexer) consume(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, ix.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "indexer stopped")

	ix.log.Info("event stream connected", "url", ix.url)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var event types.Event
		if err := json.Unmarshal(data, &event); err != nil {
			ix.log.Warn("undecodable event frame", "error", err)
			continue
		}
		if err := ix.Apply(&event); err != nil {
			ix.log.Error("failed to index event", "type", event.Type, "error", err)
		}
	}
}

// Apply routes one event into the query tables. Every event also lands in the
// raw audit trail.
func (ix *Indexer) Apply(event *types.Event) error {
	if event == nil || event.Type == "" {
		return nil
	}
	attributes, err := json.Marshal(event.Attributes)
	if err != nil {
		return err
	}
	record := &models.EventRecord{
		ID:         uuid.New(),
		Type:       event.Type,
		Attributes: string(attributes),
	}
	return ix.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		switch event.Type {
		case "trove.updated":
			return applyTroveUpdate(tx, event.Attributes)
		case "trove.redemption":
			return tx.Create(&models.Redemption{
				ID:         uuid.New(),
				Redeemer:   event.Attributes["redeemer"],
				Attempted:  event.Attributes["attempted"],
				Actual:     event.Attributes["actual"],
				Fee:        event.Attributes["fee"],
				Collateral: collateralJSON(event.Attributes),
			}).Error
		case "trove.fee":
			return tx.Create(&models.FeeCharge{
				ID:     uuid.New(),
				Owner:  event.Attributes["owner"],
				Amount: event.Attributes["amount"],
			}).Error
		case "baserate.updated":
			return tx.Create(&models.BaseRateSample{
				ID:   uuid.New(),
				Rate: event.Attributes["rate"],
			}).Error
		default:
			return nil
		}
	})
}

func applyTroveUpdate(tx *gorm.DB, attributes map[string]string) error {
	owner := attributes["owner"]
	if owner == "" {
		return nil
	}
	operation := attributes["operation"]
	status := models.StatusActive
	switch operation {
	case "close", "redeemFull":
		status = models.StatusClosed
	}
	var snapshot models.TroveSnapshot
	err := tx.Where("owner = ?", owner).First(&snapshot).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		snapshot = models.TroveSnapshot{ID: uuid.New(), Owner: owner}
	case err != nil:
		return err
	}
	snapshot.Debt = attributes["debt"]
	snapshot.Collateral = collateralJSON(attributes)
	snapshot.Status = status
	snapshot.LastOperation = operation
	return tx.Save(&snapshot).Error
}

// collateralJSON reassembles the parallel symbols/amounts attribute lists into
// a JSON object. Malformed pairs collapse to an empty object.
func collateralJSON(attributes map[string]string) string {
	symbols := splitList(attributes["symbols"])
	amounts := splitList(attributes["amounts"])
	holdings := make(map[string]string, len(symbols))
	if len(symbols) == len(amounts) {
		for i, symbol := range symbols {
			holdings[symbol] = amounts[i]
		}
	}
	encoded, err := json.Marshal(holdings)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
