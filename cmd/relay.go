package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/BioHazard786/warpchat/internal/config"
	"github.com/BioHazard786/warpchat/internal/discovery"
	"github.com/BioHazard786/warpchat/internal/relay"
	"github.com/BioHazard786/warpchat/internal/ui"
	"github.com/spf13/cobra"
)

var (
	flagRelayAddr string
	flagAdvertise bool
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a relay server for networks where peers cannot connect directly",
	Long: `Run a relay server. Everyone connected with "warpchat connect" shares one room and
every message is forwarded by the server. With --advertise the relay announces
itself on the local network so clients can find it with "warpchat connect --discover".

Examples:
  warpchat relay
  warpchat relay --addr :9000 --advertise`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags.RelayAddr = flagRelayAddr
		cfg, err := LoadConfig(flags)
		if err != nil {
			return err
		}
		return serveRelay(cmd.Context(), cfg.RelayAddr, flagAdvertise, slog.Default())
	},
}

func serveRelay(ctx context.Context, addr string, advertise bool, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := relay.NewHub(logger)
	go hub.Run(hubCtx)

	srv := &http.Server{
		Handler:           relay.NewMux(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	port := ln.Addr().(*net.TCPAddr).Port
	ui.PrintSuccessf("Relay listening on %s", ln.Addr())
	ui.PrintInfof("Clients connect with: warpchat connect ws://<this-host>:%d/ws", port)

	if advertise {
		host, _ := os.Hostname()
		shutdown, err := discovery.Advertise(port, "warpchat-"+host)
		if err != nil {
			ui.PrintWarning("Could not advertise on the local network: " + err.Error())
		} else {
			defer shutdown()
			ui.PrintInfo("Advertising as " + discovery.ServiceType + " on port " + strconv.Itoa(port))
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("relay shutdown", "error", err)
	}
	ui.PrintSuccess("Relay stopped")
	return nil
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVar(&flagRelayAddr, "addr", "", fmt.Sprintf("Listen address (default %s)", config.DefaultRelayAddr))
	relayCmd.Flags().BoolVar(&flagAdvertise, "advertise", false, "Announce the relay on the local network")
}
