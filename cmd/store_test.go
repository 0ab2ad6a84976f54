package cmd

import (
	"errors"
	"testing"
	"time"

	"github.com/BioHazard786/warpchat/internal/record"
	"github.com/BioHazard786/warpchat/internal/room"
)

func TestStoreRows(t *testing.T) {
	now := time.UnixMilli(10_000)
	listings := []room.Listing{
		{Key: room.OfferKey("4821"), Record: record.Record{Type: record.TypeOffer, RoomID: "4821", From: "alpha", Timestamp: 7_000}},
		{Key: room.OfferKey("1111"), Err: errors.New("bad token")},
	}

	rows := storeRows(listings, now)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Type != "offer" || rows[0].From != "alpha" || rows[0].Age != 3*time.Second {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].Type != "unreadable" || rows[1].Room != "" {
		t.Errorf("row 1 = %+v", rows[1])
	}
}
