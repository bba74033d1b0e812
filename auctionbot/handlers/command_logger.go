package handlers

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/auction-bot/auctionbot/config"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
)

type invocation struct {
	kind      string
	label     string
	name      string
	user      discord.User
	guildID   *snowflake.ID
	channelID snowflake.ID
}

func (inv invocation) attrs(requestID string) []any {
	return []any{
		slog.String("type", inv.kind),
		slog.String("name", inv.name),
		slog.String("request_id", requestID),
		slog.String("user_id", inv.user.ID.String()),
		slog.String("user_name", inv.user.Username),
	}
}

// run executes fn with start, completion, slow and timeout logging. A
// timed out handler keeps running; only the caller stops waiting.
func run(inv invocation, fn func() error) error {
	start := time.Now()
	requestID := uuid.NewString()

	guild := "dm"
	if inv.guildID != nil {
		guild = inv.guildID.String()
	}
	slog.Info(inv.label+" started", append(inv.attrs(requestID),
		slog.String("guild_id", guild),
		slog.String("channel_id", inv.channelID.String()),
	)...)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in %s %s: %v", inv.kind, inv.name, r)
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		attrs := append(inv.attrs(requestID), slog.Duration("took", time.Since(start)))
		switch {
		case err != nil:
			slog.Error(inv.label+" failed", append(attrs,
				slog.Any("error", err),
				slog.String("status", "failed"),
			)...)
		case time.Since(start) > config.SlowCommandThreshold:
			slog.Warn(inv.label+" executed slowly", append(attrs, slog.String("status", "slow"))...)
		default:
			slog.Info(inv.label+" completed", append(attrs, slog.String("status", "success"))...)
		}
		return err

	case <-time.After(config.CommandExecutionTimeout):
		slog.Error(inv.label+" timed out", append(inv.attrs(requestID),
			slog.String("status", "timeout"),
			slog.Duration("timeout", config.CommandExecutionTimeout),
		)...)
		return fmt.Errorf("%s %s timed out after %s", inv.kind, inv.name, config.CommandExecutionTimeout)
	}
}

// WrapWithLogging wraps a command handler with logging functionality
func WrapWithLogging(name string, h handler.CommandHandler) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		return run(invocation{
			kind:      "cmd",
			label:     "Command",
			name:      name,
			user:      e.User(),
			guildID:   e.GuildID(),
			channelID: e.ChannelID(),
		}, func() error { return h(e) })
	}
}

// WrapComponentWithLogging wraps a component handler with logging functionality
func WrapComponentWithLogging(name string, h handler.ComponentHandler) handler.ComponentHandler {
	return func(e *handler.ComponentEvent) error {
		return run(invocation{
			kind:      "component",
			label:     "Component interaction",
			name:      name,
			user:      e.User(),
			guildID:   e.GuildID(),
			channelID: e.ChannelID(),
		}, func() error { return h(e) })
	}
}

func WrapModalWithLogging(name string, h handler.ModalHandler) handler.ModalHandler {
	return func(e *handler.ModalEvent) error {
		return run(invocation{
			kind:      "component",
			label:     "Modal submission",
			name:      name,
			user:      e.User(),
			guildID:   e.GuildID(),
			channelID: e.ChannelID(),
		}, func() error { return h(e) })
	}
}

// WrapAutocomplete only recovers panics. Autocomplete is too chatty to log
// every keystroke.
func WrapAutocomplete(name string, h handler.AutocompleteHandler) handler.AutocompleteHandler {
	return func(e *handler.AutocompleteEvent) (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Autocomplete panicked",
					slog.String("type", "cmd"),
					slog.String("name", name),
					slog.Any("error", fmt.Errorf("%v", r)))
				err = fmt.Errorf("autocomplete %s panicked", name)
			}
		}()
		return h(e)
	}
}
