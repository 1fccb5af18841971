package cmd

import (
	"os"
	"os/signal"

	"github.com/makrame5/healthconnect/internal/ui"
	"github.com/makrame5/healthconnect/internal/version"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "healthconnect",
	Short:   "Video consultation tool for the HealthConnect telemedicine platform, built on WebRTC",
	Long:    `HealthConnect is a command-line client for the HealthConnect telemedicine platform. It joins the video consultation room assigned to an appointment, negotiates a direct WebRTC connection with the other participant through the platform's relay, and drives the call from the terminal: camera, microphone and screen sharing included. The relay server that brokers the signaling can also be run from this binary.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
