// Package indexer records marketplace events in a SQL database so frontends can
// query the trading history of a token.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"nft_marketplace/internal/marketplace"
)

// ErrClosed is returned when recording into a closed indexer.
var ErrClosed = errors.New("indexer closed")

const queueSize = 256

const schema = `
CREATE TABLE IF NOT EXISTS marketplace_events (
	id          TEXT PRIMARY KEY,
	tx_id       TEXT NOT NULL,
	kind        TEXT NOT NULL,
	nft         TEXT NOT NULL,
	token_id    TEXT NOT NULL,
	seller      TEXT NOT NULL,
	buyer       TEXT NOT NULL,
	price       TEXT NOT NULL,
	seq         BIGINT NOT NULL,
	recorded_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_marketplace_events_token ON marketplace_events (nft, token_id);
`

// Record is one indexed event row.
type Record struct {
	ID         string `db:"id" json:"id"`
	TxID       string `db:"tx_id" json:"tx_id"`
	Kind       string `db:"kind" json:"kind"`
	NFT        string `db:"nft" json:"nft"`
	TokenID    string `db:"token_id" json:"token_id"`
	Seller     string `db:"seller" json:"seller"`
	Buyer      string `db:"buyer" json:"buyer"`
	Price      string `db:"price" json:"price"`
	Seq        int64  `db:"seq" json:"-"`
	RecordedAt int64  `db:"recorded_at" json:"recorded_at"`
}

// Indexer writes marketplace events into SQL and answers history queries.
type Indexer struct {
	db     *sqlx.DB
	logger *zap.Logger
	seq    atomic.Int64

	mu          sync.Mutex
	queue       chan marketplace.Event
	unsubscribe func()
	done        chan struct{}
	closed      bool
}

// Open connects to the database and creates the schema if needed.
func Open(driver, dsn string, logger *zap.Logger) (*Indexer, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	idx, err := New(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// New wraps an open database and creates the schema if needed.
func New(db *sqlx.DB, logger *zap.Logger) (*Indexer, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	return &Indexer{
		db:     db,
		logger: logger.With(zap.String("component", "indexer"), zap.String("driver", db.DriverName())),
	}, nil
}

// Record stores e.
func (i *Indexer) Record(ctx context.Context, e marketplace.Event) error {
	price := ""
	if e.Price != nil {
		price = e.Price.String()
	}
	row := Record{
		ID:         uuid.NewString(),
		TxID:       e.TxID,
		Kind:       string(e.Kind),
		NFT:        e.NFT.String(),
		TokenID:    strconv.FormatUint(e.TokenID, 10),
		Seller:     e.Seller.String(),
		Buyer:      e.Buyer.String(),
		Price:      price,
		Seq:        i.seq.Add(1),
		RecordedAt: time.Now().UnixNano(),
	}

	_, err := i.db.NamedExecContext(ctx, `
		INSERT INTO marketplace_events
			(id, tx_id, kind, nft, token_id, seller, buyer, price, seq, recorded_at)
		VALUES
			(:id, :tx_id, :kind, :nft, :token_id, :seller, :buyer, :price, :seq, :recorded_at)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Activity returns the most recent events of one token, newest first.
func (i *Indexer) Activity(ctx context.Context, key marketplace.ListingKey, limit int) ([]Record, error) {
	records := []Record{}
	err := i.db.SelectContext(ctx, &records, i.db.Rebind(`
		SELECT * FROM marketplace_events
		WHERE nft = ? AND token_id = ?
		ORDER BY recorded_at DESC, seq DESC
		LIMIT ?
	`), key.NFT.String(), strconv.FormatUint(key.TokenID, 10), normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	return records, nil
}

// Recent returns the most recent events across all tokens, newest first.
func (i *Indexer) Recent(ctx context.Context, limit int) ([]Record, error) {
	records := []Record{}
	err := i.db.SelectContext(ctx, &records, i.db.Rebind(`
		SELECT * FROM marketplace_events
		ORDER BY recorded_at DESC, seq DESC
		LIMIT ?
	`), normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	return records, nil
}

// Follow subscribes the indexer to bus. Events are queued and written by a
// background goroutine; when the queue is full the event is dropped and logged.
func (i *Indexer) Follow(bus *marketplace.EventBus) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.queue != nil || i.closed {
		return
	}
	i.queue = make(chan marketplace.Event, queueSize)
	i.done = make(chan struct{})
	queue := i.queue

	i.unsubscribe = bus.Subscribe(func(e marketplace.Event) {
		i.mu.Lock()
		defer i.mu.Unlock()
		if i.closed {
			return
		}
		select {
		case queue <- e:
		default:
			i.logger.Warn("index queue full, dropping event",
				zap.String("kind", string(e.Kind)),
				zap.String("tx_id", e.TxID),
			)
		}
	})

	go i.drain(queue)
}

func (i *Indexer) drain(queue <-chan marketplace.Event) {
	defer close(i.done)
	for e := range queue {
		if err := i.Record(context.Background(), e); err != nil {
			i.logger.Error("failed to index event", zap.String("tx_id", e.TxID), zap.Error(err))
		}
	}
}

// Close stops following the bus, writes queued events and closes the database.
func (i *Indexer) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	i.closed = true
	unsubscribe, queue, done := i.unsubscribe, i.queue, i.done
	i.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if queue != nil {
		close(queue)
		<-done
	}
	return i.db.Close()
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
