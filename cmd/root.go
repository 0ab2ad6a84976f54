package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/warpchat/internal/config"
	"github.com/BioHazard786/warpchat/internal/ui"
	"github.com/BioHazard786/warpchat/internal/version"
	"github.com/spf13/cobra"
)

// Flags shared by every command that touches the network or the room store.
var flags config.Options

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warpchat",
	Short: "Peer-to-peer chat rooms over WebRTC, with an optional relay server",
	Long: `warpchat is a command-line chat for small groups. The person who creates a room
connects directly to everyone who joins it using WebRTC data channels, so messages never
pass through a server. Rooms are found by a 4-digit code through a shared store (a local
directory, an MQTT broker or a DynamoDB table) or by pasting tokens by hand. A relay
server mode is available for networks where direct connections are not possible.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigFile, "config", "c", "", "Config file (default ~/.warpchat/config.yaml)")
	pf.StringVarP(&flags.STUNServer, "stun", "s", "", "Custom STUN server")
	pf.StringVarP(&flags.TURNServer, "turn", "t", "", "Custom TURN server")
	pf.StringVarP(&flags.TURNUser, "turn-user", "u", "", "TURN username")
	pf.StringVarP(&flags.TURNPass, "turn-pass", "p", "", "TURN password")
	pf.BoolVarP(&flags.ForceRelay, "force-relay", "r", false, "Only use TURN relay candidates")
	pf.StringVar(&flags.Store, "store", "", "Room store: memory, file, mqtt or dynamodb")
	pf.StringVar(&flags.StoreDir, "store-dir", "", "Directory for the file store")
	pf.StringVar(&flags.MQTTBroker, "mqtt-broker", "", "MQTT broker URL for the mqtt store")
	pf.StringVar(&flags.DynamoTable, "dynamo-table", "", "DynamoDB table for the dynamodb store")
	pf.StringVar(&flags.DynamoRegion, "dynamo-region", "", "AWS region for the dynamodb store")
	pf.DurationVar(&flags.PollInterval, "poll", 0, "How often to re-read stores that cannot push updates")
}
