package guildmate

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBotCommands(t *testing.T) {
	t.Parallel()

	d := &Discord{}
	commands := d.botCommands()

	names := make(map[string]*discordgo.ApplicationCommand, len(commands))
	for _, c := range commands {
		names[c.Name] = c
	}

	for _, name := range []string{
		DiscordSlashCommandFact,
		DiscordSlashCommandTrivia,
		DiscordSlashCommandBalance,
		DiscordSlashCommandDaily,
		DiscordSlashCommandLeaderboard,
		DiscordSlashCommandPing,
		DiscordSlashCommandServerInfo,
		DiscordSlashCommandUserInfo,
		DiscordSlashCommandStats,
		DiscordSlashCommandSetChannel,
		DiscordSlashCommandSetTime,
		DiscordSlashCommandEnableFacts,
		DiscordSlashCommandDisableFacts,
		DiscordSlashCommandSetLevelChannel,
		DiscordSlashCommandToggleLevels,
		DiscordSlashCommandResetLeaderboard,
	} {
		assert.Contains(t, names, name)
	}
	assert.Len(t, commands, 16)

	// admin commands require Manage Server by default
	for _, name := range []string{
		DiscordSlashCommandSetChannel,
		DiscordSlashCommandSetTime,
		DiscordSlashCommandResetLeaderboard,
	} {
		cmd := names[name]
		require.NotNil(t, cmd.DefaultMemberPermissions, name)
		assert.Equal(t, adminCommandPermissions, *cmd.DefaultMemberPermissions)
	}

	// everyday commands don't
	assert.Nil(t, names[DiscordSlashCommandBalance].DefaultMemberPermissions)

	setTime := names[DiscordSlashCommandSetTime]
	require.Len(t, setTime.Options, 2)
	assert.Equal(t, commandOptionHour, setTime.Options[0].Name)
	assert.True(t, setTime.Options[0].Required)
}
