package utils

import (
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
)

const (
	SuccessColor = 0x2ecc71
	ErrorColor   = 0xe74c3c
	WarningColor = 0xf1c40f
	InfoColor    = 0x3498db
)

// ResponseHandler provides standardized response methods for commands.
type ResponseHandler struct{}

var EH = &ResponseHandler{}

func (h *ResponseHandler) Success(e *handler.CommandEvent, title, description string) error {
	return e.CreateMessage(discord.MessageCreate{
		Embeds: []discord.Embed{{
			Title:       title,
			Description: description,
			Color:       SuccessColor,
		}},
	})
}

func (h *ResponseHandler) Error(e *handler.CommandEvent, description string) error {
	return e.CreateMessage(discord.MessageCreate{
		Embeds: []discord.Embed{{
			Title:       "❌ Error",
			Description: description,
			Color:       ErrorColor,
		}},
		Flags: discord.MessageFlagEphemeral,
	})
}

// UpdateSuccess replaces a deferred response with a success embed.
func (h *ResponseHandler) UpdateSuccess(e *handler.CommandEvent, title, description string) error {
	_, err := e.UpdateInteractionResponse(discord.MessageUpdate{
		Embeds: &[]discord.Embed{{
			Title:       title,
			Description: description,
			Color:       SuccessColor,
		}},
	})
	return err
}

// UpdateError replaces a deferred response with an error embed.
func (h *ResponseHandler) UpdateError(e *handler.CommandEvent, description string) error {
	_, err := e.UpdateInteractionResponse(discord.MessageUpdate{
		Embeds: &[]discord.Embed{{
			Title:       "❌ Error",
			Description: description,
			Color:       ErrorColor,
		}},
	})
	return err
}

// UpdateWarning replaces a deferred response with a partial-success embed.
func (h *ResponseHandler) UpdateWarning(e *handler.CommandEvent, title, description string) error {
	_, err := e.UpdateInteractionResponse(discord.MessageUpdate{
		Embeds: &[]discord.Embed{{
			Title:       title,
			Description: description,
			Color:       WarningColor,
		}},
	})
	return err
}

// Mention renders a user mention.
func Mention(id fmt.Stringer) string {
	return fmt.Sprintf("<@%s>", id)
}

func Ptr[T any](v T) *T {
	return &v
}
