// Package room generates room codes and advertises pending offers and
// their answers in a shared store.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BioHazard786/warpchat/internal/negotiator"
	"github.com/BioHazard786/warpchat/internal/record"
	"github.com/BioHazard786/warpchat/internal/store"
)

const DefaultPollInterval = 2 * time.Second

func OfferKey(code string) string {
	return "room/" + code + "/offer"
}

func AnswerPrefix(code string) string {
	return "room/" + code + "/answer/"
}

func AnswerKey(code, from string) string {
	return AnswerPrefix(code) + from
}

// Directory publishes and finds negotiation records by room code. The
// creator owns the offer key; each joiner owns its own answer key.
type Directory struct {
	store  store.Store
	poll   time.Duration
	logger *slog.Logger
}

func New(s store.Store, pollInterval time.Duration, logger *slog.Logger) *Directory {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		store:  s,
		poll:   pollInterval,
		logger: logger.With("component", "room"),
	}
}

func (d *Directory) Store() store.Store {
	return d.store
}

// PollInterval is how often stores without push support are re-read.
func (d *Directory) PollInterval() time.Duration {
	return d.poll
}

// PublishOffer replaces the room's pending offer.
func (d *Directory) PublishOffer(ctx context.Context, rec record.Record) error {
	if rec.Type != record.TypeOffer {
		return fmt.Errorf("publish offer: %w: got %s", record.ErrUnknownRecordType, rec.Type)
	}
	return d.put(ctx, OfferKey(rec.RoomID), rec)
}

func (d *Directory) PublishAnswer(ctx context.Context, rec record.Record) error {
	if rec.Type != record.TypeAnswer {
		return fmt.Errorf("publish answer: %w: got %s", record.ErrUnknownRecordType, rec.Type)
	}
	if rec.From == "" {
		return fmt.Errorf("publish answer: missing sender id")
	}
	return d.put(ctx, AnswerKey(rec.RoomID, rec.From), rec)
}

func (d *Directory) put(ctx context.Context, key string, rec record.Record) error {
	if err := ValidateCode(rec.RoomID); err != nil {
		return err
	}
	token, err := record.Encode(rec)
	if err != nil {
		return err
	}
	if err := d.store.Put(ctx, key, []byte(token)); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	d.logger.Debug("published record", "key", key, "type", rec.Type)
	return nil
}

// LookupOffer returns the pending offer for code. A missing, unreadable or
// mismatched entry is reported as ErrRoomNotFound.
func (d *Directory) LookupOffer(ctx context.Context, code string) (record.Record, error) {
	if err := ValidateCode(code); err != nil {
		return record.Record{}, err
	}

	raw, err := d.store.Get(ctx, OfferKey(code))
	if errors.Is(err, store.ErrNotFound) {
		return record.Record{}, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("lookup %s: %w", code, err)
	}

	rec, err := record.Decode(string(raw))
	if err != nil {
		d.logger.Warn("unreadable offer in store", "room", code, "error", err)
		return record.Record{}, fmt.Errorf("%w: %s: %w", ErrRoomNotFound, code, err)
	}
	if rec.Type != record.TypeOffer || rec.RoomID != code {
		return record.Record{}, fmt.Errorf("%w: %s: stored %s for room %s", ErrRoomNotFound, code, rec.Type, rec.RoomID)
	}
	return rec, nil
}

// Listing is one record found in the store. Err is set when the entry
// could not be decoded.
type Listing struct {
	Key    string
	Record record.Record
	Err    error
}

// List returns every record stored for code, or for all rooms when code
// is empty.
func (d *Directory) List(ctx context.Context, code string) ([]Listing, error) {
	prefix := "room/"
	if code != "" {
		if err := ValidateCode(code); err != nil {
			return nil, err
		}
		prefix += code + "/"
	}

	entries, err := d.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	out := make([]Listing, 0, len(entries))
	for _, e := range entries {
		rec, err := record.Decode(string(e.Value))
		out = append(out, Listing{Key: e.Key, Record: rec, Err: err})
	}
	return out, nil
}

// Withdraw removes the room's offer so no new joiner finds it.
func (d *Directory) Withdraw(ctx context.Context, code string) error {
	return d.store.Delete(ctx, OfferKey(code))
}

// WatchAnswers delivers each answer written for code exactly once. Every
// record id is marked in set before it is delivered, and consumed entries
// are removed from the store. Stores that implement store.Watcher push
// answers as they arrive; others are polled. The channel closes when ctx
// ends.
func (d *Directory) WatchAnswers(ctx context.Context, code string, set *negotiator.PendingAnswerSet) <-chan record.Record {
	out := make(chan record.Record)
	prefix := AnswerPrefix(code)

	go func() {
		defer close(out)

		if w, ok := d.store.(store.Watcher); ok {
			entries, err := w.Watch(ctx, prefix)
			if err == nil {
				for e := range entries {
					if !d.consume(ctx, code, e, set, out) {
						return
					}
				}
				return
			}
			d.logger.Warn("watch failed, falling back to polling", "room", code, "error", err)
		}

		ticker := time.NewTicker(d.poll)
		defer ticker.Stop()
		for {
			entries, err := d.store.List(ctx, prefix)
			if err != nil && ctx.Err() == nil {
				d.logger.Warn("polling answers", "room", code, "error", err)
			}
			for _, e := range entries {
				if !d.consume(ctx, code, e, set, out) {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

// consume reports false once ctx is done.
func (d *Directory) consume(ctx context.Context, code string, e store.Entry, set *negotiator.PendingAnswerSet, out chan<- record.Record) bool {
	rec, err := record.Decode(string(e.Value))
	if err != nil {
		d.logger.Warn("discarding unreadable answer", "key", e.Key, "error", err)
		d.store.Delete(ctx, e.Key)
		return true
	}
	if rec.Type != record.TypeAnswer || rec.RoomID != code || !strings.HasPrefix(e.Key, AnswerPrefix(code)) {
		d.logger.Debug("ignoring foreign record", "key", e.Key, "type", rec.Type)
		return true
	}
	if !set.Observe(rec.ID()) {
		return true
	}
	if err := d.store.Delete(ctx, e.Key); err != nil {
		d.logger.Debug("removing consumed answer", "key", e.Key, "error", err)
	}

	select {
	case out <- rec:
		return true
	case <-ctx.Done():
		return false
	}
}
