package cmd

import (
	"errors"

	"github.com/BioHazard786/warpchat/internal/room"
	"github.com/BioHazard786/warpchat/internal/session"
	"github.com/BioHazard786/warpchat/internal/ui"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:     "join <code>",
	Aliases: []string{"j"},
	Short:   "Join a chat room by its 4-digit code",
	Long: `Join a chat room. The room's offer is looked up in the room store. If it is not
there, a join request token is shown: give it to the room creator and paste the
offer token they send back with /code.

Examples:
  warpchat join 4821
  warpchat join 4821 --name Grace --store file --store-dir /mnt/shared/warpchat`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := args[0]
		if err := room.ValidateCode(code); err != nil {
			return err
		}
		name, err := resolveName()
		if err != nil {
			return err
		}

		cc, err := NewChatContext(cmd.Context())
		if err != nil {
			return err
		}
		defer cc.Close()

		screen := ui.NewChat(ui.ChatOptions{Title: "Room " + code, Self: name})
		s := cc.NewSession(screen)
		go s.Run(cmd.Context())

		screen.Notice("Looking for room " + code + "...")
		go func() {
			err := s.JoinRoom(cmd.Context(), name, code)
			switch {
			case err == nil:
			case errors.Is(err, session.ErrClosed), errors.Is(err, cmd.Context().Err()):
			default:
				screen.Fail(err)
			}
		}()

		return runChat(screen, s)
	},
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Your display name (1-20 characters)")
}
