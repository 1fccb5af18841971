package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/makrame5/healthconnect/internal/relay"
	"github.com/makrame5/healthconnect/internal/ui"
)

var relayAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the consultation signaling relay server",
	Long:  `Relay runs the websocket server that brokers consultation rooms: participants join the room from their appointment, and the relay forwards WebRTC offers, answers and ICE candidates between them. The relay carries signaling only; audio and video flow peer to peer.`,
	RunE:  runRelay,
}

func init() {
	relayCmd.Flags().StringVarP(&relayAddr, "addr", "a", ":8080", "listen address")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	hub := relay.NewHub()
	go hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", relay.HealthHandler)
	mux.HandleFunc("/ws", relay.ServeWs(hub))

	ui.PrintInfof("Relay server listening on %s", relayAddr)

	if err := http.ListenAndServe(relayAddr, mux); err != nil {
		return fmt.Errorf("relay server: %w", err)
	}
	return nil
}
