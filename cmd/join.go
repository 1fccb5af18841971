package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/makrame5/healthconnect/internal/call"
	"github.com/makrame5/healthconnect/internal/config"
	"github.com/makrame5/healthconnect/internal/media"
	"github.com/makrame5/healthconnect/internal/signaling"
	"github.com/makrame5/healthconnect/internal/ui"
)

var joinOpts struct {
	room      string
	name      string
	role      string
	userID    string
	synthetic bool
	auto      bool

	domain     string
	relayURL   string
	stun       []string
	turnServer string
	turnUser   string
	turnPass   string
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a video consultation room",
	Long:  `Join connects to the relay, enters the consultation room assigned to your appointment and drives the video call from the terminal. Press 'c' to start the call, or wait: an incoming call is answered automatically.`,
	RunE:  runJoin,
}

func init() {
	joinCmd.Flags().StringVarP(&joinOpts.room, "room", "r", "", "consultation room ID from the appointment (required)")
	joinCmd.Flags().StringVarP(&joinOpts.name, "name", "n", "", "display name (required)")
	joinCmd.Flags().StringVar(&joinOpts.role, "role", signaling.RolePatient, "participant role: doctor or patient")
	joinCmd.Flags().StringVar(&joinOpts.userID, "user-id", "", "platform user ID (random when omitted)")
	joinCmd.Flags().BoolVar(&joinOpts.synthetic, "synthetic", false, "use a synthetic camera/microphone instead of hardware")
	joinCmd.Flags().BoolVar(&joinOpts.auto, "auto", false, "start the call immediately after joining")

	joinCmd.Flags().StringVarP(&joinOpts.domain, "domain", "d", "", "platform domain")
	joinCmd.Flags().StringVar(&joinOpts.relayURL, "relay-url", "", "relay websocket URL (overrides domain)")
	joinCmd.Flags().StringSliceVar(&joinOpts.stun, "stun", nil, "STUN server URLs")
	joinCmd.Flags().StringVar(&joinOpts.turnServer, "turn-server", "", "TURN server host")
	joinCmd.Flags().StringVar(&joinOpts.turnUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&joinOpts.turnPass, "turn-pass", "", "TURN password")

	joinCmd.MarkFlagRequired("room")
	joinCmd.MarkFlagRequired("name")

	rootCmd.AddCommand(joinCmd)
}

func runJoin(cmd *cobra.Command, args []string) error {
	if joinOpts.role != signaling.RoleDoctor && joinOpts.role != signaling.RolePatient {
		return fmt.Errorf("invalid role %q: must be doctor or patient", joinOpts.role)
	}

	cfg, err := LoadConfig(config.Options{
		Domain:      joinOpts.domain,
		RelayURL:    joinOpts.relayURL,
		STUNServers: joinOpts.stun,
		TURNServer:  joinOpts.turnServer,
		TURNUser:    joinOpts.turnUser,
		TURNPass:    joinOpts.turnPass,
	})
	if err != nil {
		return err
	}

	fmt.Println(ui.NewRoomInfo(joinOpts.room, cfg.GetRoomLink(joinOpts.room)).View())

	capability, err := newCapability(joinOpts.synthetic)
	if err != nil {
		return call.WrapError("prepare media", err, "")
	}

	stop := ui.RunConnectionSpinner("Connecting to relay...")
	ctx, err := NewConnectionContext(cfg)
	stop()
	if err != nil {
		return err
	}
	defer ctx.Close()
	ui.PrintSuccess("Connected to relay")

	userID := joinOpts.userID
	if userID == "" {
		userID = uuid.NewString()
	}

	controller := call.New(call.Options{
		RoomID: joinOpts.room,
		Self: signaling.Participant{
			UserID:   userID,
			UserName: joinOpts.name,
			UserRole: joinOpts.role,
		},
		Relay:      &relayChannel{client: ctx.Client},
		Media:      capability,
		ICEServers: call.ICEServers(cfg),
	})
	go pumpEvents(ctx, controller)

	runErr := ui.RunCallScreen(controller, joinOpts.room, joinOpts.auto)
	controller.Shutdown()

	stats := controller.Stats()
	if !stats.StartedAt.IsZero() {
		summary := ui.CallSummary{
			Room:        stats.RoomID,
			Participant: joinOpts.name,
			Duration:    stats.Duration(),
			Offers:      stats.Offers,
			ICERestarts: stats.ICERestarts,
		}
		if !stats.ConnectedAt.IsZero() {
			summary.TimeToMedia = stats.ConnectedAt.Sub(stats.StartedAt)
		}
		ui.RenderCallSummary("📋 Consultation Summary", summary)
	}

	return runErr
}

func newCapability(synthetic bool) (media.Capability, error) {
	if synthetic {
		return media.NewSynthetic(), nil
	}
	return media.NewDevices()
}
