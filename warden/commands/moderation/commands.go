package moderation

import "github.com/disgoorg/disgo/discord"

var Commands = []discord.ApplicationCommandCreate{
	Mute,
	Unmute,
	MuteChannel,
	UnmuteChannel,
	MuteSet,
	MuteList,
	MuteHistory,
}
