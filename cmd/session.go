package cmd

import (
	"log/slog"

	"github.com/makrame5/healthconnect/internal/call"
	"github.com/makrame5/healthconnect/internal/config"
	"github.com/makrame5/healthconnect/internal/signaling"
)

// ConnectionContext bundles the relay connection shared by the call
// commands.
type ConnectionContext struct {
	Client  *signaling.Client
	Handler *signaling.Handler
	Config  *config.Config
}

func NewConnectionContext(cfg *config.Config) (*ConnectionContext, error) {
	client := signaling.NewClient(cfg.WebSocketURL)
	if err := client.Connect(); err != nil {
		return nil, call.NewError("connect to relay", err)
	}

	handler := signaling.NewHandler(client)
	go handler.Start()

	return &ConnectionContext{
		Client:  client,
		Handler: handler,
		Config:  cfg,
	}, nil
}

func (c *ConnectionContext) Close() {
	if c.Handler != nil {
		c.Handler.Close()
	}
	if c.Client != nil {
		c.Client.Close()
	}
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, call.NewError("load config", err)
	}
	return cfg, nil
}

// relayChannel adapts the websocket signaling client to the controller's
// Relay interface.
type relayChannel struct {
	client *signaling.Client
}

func (r *relayChannel) Join(roomID string, self signaling.Participant) error {
	msg, err := signaling.NewJoinMessage(roomID, &self)
	if err != nil {
		return err
	}
	r.client.SendMessage(msg)
	return nil
}

func (r *relayChannel) Leave(roomID string) error {
	r.client.SendMessage(signaling.NewLeaveMessage(roomID))
	return nil
}

func (r *relayChannel) SendSignal(roomID string, sig *signaling.Signal) error {
	msg, err := signaling.NewSignalMessage(roomID, sig)
	if err != nil {
		return err
	}
	r.client.SendMessage(msg)
	return nil
}

// pumpEvents forwards relay announcements and signals into the
// controller until the handler's channels close.
func pumpEvents(ctx *ConnectionContext, controller *call.Controller) {
	for {
		select {
		case p, ok := <-ctx.Handler.UserJoined:
			if !ok {
				return
			}
			controller.PeerJoined(p)

		case p, ok := <-ctx.Handler.UserLeft:
			if !ok {
				return
			}
			controller.PeerLeft(p)

		case sig, ok := <-ctx.Handler.Signal:
			if !ok {
				return
			}
			controller.HandleSignal(sig)

		case errMsg, ok := <-ctx.Handler.Error:
			if !ok {
				return
			}
			// Relay errors are advisory; the call itself may be healthy.
			slog.Warn("relay reported error", "error", errMsg)
		}
	}
}
