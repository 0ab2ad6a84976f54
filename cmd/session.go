package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BioHazard786/warpchat/internal/chat"
	"github.com/BioHazard786/warpchat/internal/config"
	"github.com/BioHazard786/warpchat/internal/room"
	"github.com/BioHazard786/warpchat/internal/session"
	"github.com/BioHazard786/warpchat/internal/store"
	"github.com/BioHazard786/warpchat/internal/store/dynamostore"
	"github.com/BioHazard786/warpchat/internal/store/filestore"
	"github.com/BioHazard786/warpchat/internal/store/mqttstore"
	"github.com/BioHazard786/warpchat/internal/ui"
	"github.com/BioHazard786/warpchat/internal/webrtc"
	petname "github.com/dustinkirkland/golang-petname"
)

var flagName string

// ChatContext is everything a chat command needs once the room store is
// reachable.
type ChatContext struct {
	Config    *config.Config
	Store     store.Store
	Directory *room.Directory
	Logger    *slog.Logger
}

func NewChatContext(ctx context.Context) (*ChatContext, error) {
	cfg, err := LoadConfig(flags)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	spin := ui.NewConnectionSpinner(fmt.Sprintf("Opening %s room store...", cfg.Store))
	spin.Start()
	s, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		spin.Error("Could not open the room store")
		return nil, session.NewError("open room store", err)
	}
	spin.Stop()

	return &ChatContext{
		Config:    cfg,
		Store:     s,
		Directory: room.New(s, cfg.PollInterval, logger),
		Logger:    logger,
	}, nil
}

func (c *ChatContext) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
}

// Manual reports whether tokens have to be passed around by hand because
// the store is not shared with anyone else.
func (c *ChatContext) Manual() bool {
	return c.Config.Store == config.StoreMemory
}

// NewSession wires a session to the configured ICE servers and room store.
func (c *ChatContext) NewSession(u session.UI) *session.Session {
	ice := webrtc.NewICEConfig(c.Config)
	logger := c.Logger
	return session.New(u, session.Options{
		Directory: c.Directory,
		NewTransport: func() (session.Transport, error) {
			p, err := webrtc.NewPeer(ice, logger)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		NegotiationTimeout: c.Config.NegotiationTimeout,
		ManualTimeout:      c.Config.ManualTimeout,
		Logger:             logger,
	})
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, session.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// OpenStore connects to the room store named in cfg.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreFile:
		dir := cfg.StoreDir
		if dir == "" {
			d, err := filestore.DefaultDir()
			if err != nil {
				return nil, err
			}
			dir = d
		}
		return filestore.Open(dir)
	case config.StoreMQTT:
		return mqttstore.Open(ctx, cfg.MQTTBroker, logger)
	case config.StoreDynamoDB:
		return dynamostore.Open(ctx, cfg.DynamoTable, cfg.DynamoRegion)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownStore, cfg.Store)
	}
}

// resolveName returns the --name flag, or asks for one on stdin. An empty
// answer picks a random name.
func resolveName() (string, error) {
	name := strings.TrimSpace(flagName)
	if name == "" {
		fmt.Print(ui.BoldStyle.Render("Enter your name: "))
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		name = strings.TrimSpace(line)
	}
	if name == "" {
		name = petname.Generate(1, "")
		ui.PrintInfof("Chatting as %s", name)
	}
	return chat.ValidateName(name)
}

// runChat shows the chat screen for s until the user leaves, then closes
// the session.
func runChat(screen *ui.Chat, s *session.Session) error {
	err := screen.Run(s)
	s.Close()
	if err != nil {
		return err
	}
	ui.PrintSuccess("Left the chat")
	return nil
}
