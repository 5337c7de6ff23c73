package commands

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/ellavondegurechaff/warden/warden/commands/moderation"
	"github.com/ellavondegurechaff/warden/warden/commands/system"
)

var Commands = []discord.ApplicationCommandCreate{}

func init() {
	Commands = append(Commands, moderation.Commands...)
	Commands = append(Commands, system.Commands...)
}
