package cmd

import (
	"fmt"

	"github.com/BioHazard786/warpchat/internal/ui"
	"github.com/spf13/cobra"
)

var flagShowTokens bool

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c", "new"},
	Short:   "Create a chat room and wait for others to join",
	Long: `Create a chat room. The room code is published in the room store so others can
join with "warpchat join <code>". Without a shared store, give the offer token
shown in the chat to each person joining and paste their answer with /code.

Examples:
  warpchat create --name Ada
  warpchat create --store mqtt --mqtt-broker tcp://broker.local:1883`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := resolveName()
		if err != nil {
			return err
		}

		cc, err := NewChatContext(cmd.Context())
		if err != nil {
			return err
		}
		defer cc.Close()

		screen := ui.NewChat(ui.ChatOptions{
			Self:            name,
			ShowOfferTokens: flagShowTokens || cc.Manual(),
		})
		s := cc.NewSession(screen)
		go s.Run(cmd.Context())

		spin := ui.NewConnectionSpinner("Creating room...")
		spin.Start()
		code, err := s.CreateRoom(cmd.Context(), name)
		if err != nil {
			spin.Error("Could not create the room")
			s.Close()
			return err
		}
		spin.Stop()

		fmt.Println(ui.RoomInfo{Code: code, Directory: cc.Config.Store, Manual: cc.Manual()}.View())
		screen.SetTitle("Room " + code)
		screen.Notice(fmt.Sprintf("Room %s created. Others join with: warpchat join %s", code, code))

		return runChat(screen, s)
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringVarP(&flagName, "name", "n", "", "Your display name (1-20 characters)")
	createCmd.Flags().BoolVar(&flagShowTokens, "show-tokens", false, "Print every new offer token in the chat")
}
