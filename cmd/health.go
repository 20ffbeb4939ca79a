package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/dns"
	"github.com/BioHazard786/meshcall/internal/server"
	"github.com/BioHazard786/meshcall/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the signaling server is up",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(config.ClientOptions{SignalingServer: flagServer})
		if err != nil {
			return err
		}

		stop := ui.RunConnectionSpinner("Contacting " + cfg.SignalingServer + "...")
		health, err := server.NewClient(cfg.SignalingServer, dns.NewResolver().DialContext).Health(cmd.Context())
		stop()
		if err != nil {
			return fmt.Errorf("signaling server unreachable: %w", err)
		}

		fmt.Println(ui.HealthView(cfg.SignalingServer, health.Status, health.Rooms, health.TotalUsers))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
