package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/dns"
	"github.com/BioHazard786/meshcall/internal/server"
	"github.com/BioHazard786/meshcall/internal/ui"
)

var roomCmd = &cobra.Command{
	Use:   "room <room>",
	Short: "Show who is in a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(config.ClientOptions{SignalingServer: flagServer})
		if err != nil {
			return err
		}

		api := server.NewClient(cfg.SignalingServer, dns.NewResolver().DialContext)
		room, err := api.Room(cmd.Context(), args[0])
		if errors.Is(err, server.ErrRoomNotFound) {
			ui.PrintWarning(fmt.Sprintf("Room %s is empty", args[0]))
			return nil
		}
		if err != nil {
			return err
		}

		members := make([]ui.RoomMember, 0, len(room.Users))
		for _, u := range room.Users {
			members = append(members, ui.RoomMember{Name: u.UserName, JoinedAt: time.UnixMilli(u.JoinedAt)})
		}
		fmt.Println(ui.RoomView(room.RoomID, members, time.Now()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomCmd)
}
