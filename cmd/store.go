package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/BioHazard786/warpchat/internal/room"
	"github.com/BioHazard786/warpchat/internal/ui"
	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect the room store",
}

var storeLsCmd = &cobra.Command{
	Use:     "ls [code]",
	Aliases: []string{"list"},
	Short:   "List the offers and answers in the room store",
	Long: `List the negotiation records currently in the room store, for one room or for
all of them.

Examples:
  warpchat store ls
  warpchat store ls 4821 --store mqtt`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := ""
		if len(args) == 1 {
			code = args[0]
		}

		cc, err := NewChatContext(cmd.Context())
		if err != nil {
			return err
		}
		defer cc.Close()

		listings, err := cc.Directory.List(cmd.Context(), code)
		if err != nil {
			return err
		}
		if len(listings) == 0 {
			ui.PrintInfof("No rooms in the %s store", cc.Config.Store)
			return nil
		}

		fmt.Println()
		ui.RenderStoreTable(os.Stdout, storeRows(listings, time.Now()))
		return nil
	},
}

func storeRows(listings []room.Listing, now time.Time) []ui.StoreRow {
	rows := make([]ui.StoreRow, 0, len(listings))
	for _, l := range listings {
		if l.Err != nil {
			rows = append(rows, ui.StoreRow{Key: l.Key, Type: "unreadable"})
			continue
		}
		row := ui.StoreRow{
			Key:  l.Key,
			Type: string(l.Record.Type),
			Room: l.Record.RoomID,
			From: l.Record.From,
		}
		if l.Record.Timestamp > 0 {
			row.Age = now.Sub(time.UnixMilli(l.Record.Timestamp))
		}
		rows = append(rows, row)
	}
	return rows
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeLsCmd)
}
