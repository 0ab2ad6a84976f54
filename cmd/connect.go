package cmd

import (
	"time"

	"github.com/BioHazard786/warpchat/internal/discovery"
	"github.com/BioHazard786/warpchat/internal/session"
	"github.com/BioHazard786/warpchat/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagDiscover        bool
	flagDiscoverTimeout time.Duration
)

var connectCmd = &cobra.Command{
	Use:   "connect [url]",
	Short: "Chat through a relay server",
	Long: `Connect to a relay server started with "warpchat relay". The URL defaults to the
relay_url setting. With --discover the relay is looked up on the local network.

Examples:
  warpchat connect ws://chat.example.com:8080/ws
  warpchat connect --discover --name Ada`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := resolveName()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			flags.RelayURL = args[0]
		}
		cfg, err := LoadConfig(flags)
		if err != nil {
			return err
		}

		url := cfg.RelayURL
		if flagDiscover {
			spin := ui.NewWaitingSpinner("Looking for a relay on the local network...")
			spin.Start()
			found, err := discovery.Browse(cmd.Context(), flagDiscoverTimeout)
			if err != nil {
				spin.Error("No relay found")
				return err
			}
			spin.Success("Found relay at " + found)
			url = found
		}

		screen := ui.NewChat(ui.ChatOptions{Title: "Relay " + url, Self: name})
		s := session.New(screen, session.Options{})
		go s.Run(cmd.Context())

		spin := ui.NewConnectionSpinner("Connecting to relay...")
		spin.Start()
		if err := s.JoinRelay(cmd.Context(), name, url); err != nil {
			spin.Error("Could not connect to the relay")
			s.Close()
			return err
		}
		spin.Stop()

		return runChat(screen, s)
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringVarP(&flagName, "name", "n", "", "Your display name (1-20 characters)")
	connectCmd.Flags().BoolVar(&flagDiscover, "discover", false, "Find a relay on the local network")
	connectCmd.Flags().DurationVar(&flagDiscoverTimeout, "discover-timeout", 5*time.Second, "How long to look for a relay")
}
