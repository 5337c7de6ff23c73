package moderation

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/handler"
	"github.com/disgoorg/paginator"
	"github.com/disgoorg/snowflake/v2"
	"github.com/ellavondegurechaff/warden/warden"
	"github.com/ellavondegurechaff/warden/warden/mutes"
	"github.com/ellavondegurechaff/warden/warden/utils"
	"github.com/sahilm/fuzzy"
)

const mutesPerPage = 10

var MuteList = discord.SlashCommandCreate{
	Name:        "mutes",
	Description: "List the active mutes in this server",
	Options: []discord.ApplicationCommandOption{
		discord.ApplicationCommandOptionString{
			Name:        "query",
			Description: "Filter by user ID or reason",
		},
	},
}

// muteEntry is one row of the mute list; Key is what the query is matched
// against.
type muteEntry struct {
	Key  string
	Line string
}

type muteEntries []muteEntry

func (m muteEntries) Len() int            { return len(m) }
func (m muteEntries) String(i int) string { return m[i].Key }

func MuteListHandler(b *warden.Bot) handler.CommandHandler {
	return func(e *handler.CommandEvent) error {
		if err := requireModerator(e); err != nil {
			return err
		}
		data := e.SlashCommandInteractionData()
		query, _ := data.OptString("query")
		guildID := *e.GuildID()

		entries := collectEntries(b.MuteService.Registry(), guildID)
		if query != "" {
			matches := fuzzy.FindFrom(query, entries)
			filtered := make(muteEntries, 0, len(matches))
			for _, m := range matches {
				filtered = append(filtered, entries[m.Index])
			}
			entries = filtered
		}

		if len(entries) == 0 {
			description := "Nobody is muted in this server."
			if query != "" {
				description = "No active mutes match that query."
			}
			return utils.EH.Success(e, "🔇 Active mutes", description)
		}

		totalPages := int(math.Ceil(float64(len(entries)) / float64(mutesPerPage)))
		return b.Paginator.Create(e.Respond, paginator.Pages{
			ID:      e.ID().String(),
			Creator: e.User().ID,
			PageFunc: func(page int, embed *discord.EmbedBuilder) {
				start := page * mutesPerPage
				end := min(start+mutesPerPage, len(entries))

				var description strings.Builder
				if query != "" {
					description.WriteString(fmt.Sprintf("Filtering by: %s\n\n", query))
				}
				for _, entry := range entries[start:end] {
					description.WriteString(entry.Line)
					description.WriteByte('\n')
				}

				embed.
					SetTitle("🔇 Active mutes").
					SetDescription(description.String()).
					SetColor(utils.InfoColor).
					SetFooter(fmt.Sprintf("Page %d/%d • Total: %d", page+1, totalPages, len(entries)), "")
			},
			Pages:      totalPages,
			ExpireMode: paginator.ExpireModeAfterLastUsage,
		}, false)
	}
}

func collectEntries(reg *mutes.Registry, guildID snowflake.ID) muteEntries {
	var entries muteEntries
	for _, rec := range reg.GuildMutes(guildID) {
		entries = append(entries, muteEntry{
			Key:  fmt.Sprintf("%s %s", rec.UserID, rec.Reason),
			Line: fmt.Sprintf("• <@%s> — server-wide%s%s", rec.UserID, untilSuffix(rec.Until), reasonSuffix(rec.Reason)),
		})
	}
	for _, rec := range reg.ChannelMutesInGuild(guildID) {
		entries = append(entries, muteEntry{
			Key:  fmt.Sprintf("%s %s", rec.UserID, rec.Reason),
			Line: fmt.Sprintf("• <@%s> — in <#%s>%s%s", rec.UserID, rec.ChannelID, untilSuffix(rec.Until), reasonSuffix(rec.Reason)),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Line < entries[j].Line })
	return entries
}

func untilSuffix(until *time.Time) string {
	if until == nil {
		return ""
	}
	return fmt.Sprintf(" until <t:%d:R>", until.Unix())
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " — " + reason
}
