package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/call"
	"github.com/BioHazard786/meshcall/internal/channel"
	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/dns"
	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/netcheck"
	"github.com/BioHazard786/meshcall/internal/roomname"
	"github.com/BioHazard786/meshcall/internal/server"
	"github.com/BioHazard786/meshcall/internal/ui"
	"github.com/BioHazard786/meshcall/internal/webrtc"
)

var flagName string

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a call room, creating it if nobody is there",
	Long: `Join a room and connect directly to everyone already in it.
Without a room name a fresh, memorable one is picked.

Keys during the call: m mute, v video, r rejoin, q hang up.

Examples:
  meshcall join
  meshcall join brave-otter-lamp --name Alice
  meshcall join standup --server https://signal.example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var roomID string
		if len(args) == 1 {
			roomID = strings.TrimSpace(args[0])
		}
		return joinRoom(cmd.Context(), roomID)
	},
}

func init() {
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "display name shown to other participants (default $USER)")
	rootCmd.AddCommand(joinCmd)
}

func joinRoom(ctx context.Context, roomID string) error {
	cfg, err := config.LoadClient(config.ClientOptions{SignalingServer: flagServer})
	if err != nil {
		return call.NewError("load config", err)
	}

	resolver := dns.NewResolver()
	api := server.NewClient(cfg.SignalingServer, resolver.DialContext)

	if roomID == "" {
		sp := ui.NewConnectionSpinner("Picking a room name...")
		sp.Start()
		roomID = roomname.GenerateUnused(func(id string) bool {
			taken, err := api.RoomTaken(ctx, id)
			return err == nil && taken
		})
		sp.Success("Picked room " + ui.BoldStyle.Render(roomID))
	}

	if reason, ok := netcheck.Restricted(netcheck.Local()); ok {
		ui.PrintWarning(fmt.Sprintf("Detected %s: direct connections may fail without a relay", reason))
	}

	engine, err := webrtc.NewEngine(webrtc.EngineOptions{
		STUNServers: cfg.STUNServers,
		Logger:      logging.Component("webrtc"),
	})
	if err != nil {
		return call.NewError("create media engine", err)
	}

	ch := channel.NewClient(channel.Options{
		URL:               cfg.WebSocketURL,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		DialTimeout:       cfg.ConnectTimeout,
		Resolver:          resolver,
		Logger:            logging.Component("channel"),
	})

	c := call.New(call.Options{
		RoomID:      roomID,
		UserName:    displayName(),
		Constraints: media.DefaultConstraints,
		Fallback:    media.BasicConstraints,
		Media:       media.SyntheticSource{},
		Channel:     ch,
		Transport:   call.EngineTransport(engine),
		Logger:      logging.Component("call"),
	})

	ui.PrintInfof("Joining %s as %s", ui.BoldStyle.Render(roomID), displayName())
	c.Start()

	uiErr := ui.RunCall(ctx, c, c.Updates(), c.Snapshot())
	c.Close()
	if uiErr != nil {
		return fmt.Errorf("call view: %w", uiErr)
	}

	if err := c.Snapshot().Err; err != nil {
		return err
	}
	ui.PrintSuccessf("Left %s", roomID)
	return nil
}

func displayName() string {
	if name := strings.TrimSpace(flagName); name != "" {
		return name
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "guest"
}
