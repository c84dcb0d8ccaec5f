package ginsilog

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestModerator_Detect(t *testing.T) {
	t.Parallel()
	bot, _, _ := newTestBot(t)

	testCases := []struct {
		content string
		word    string
		action  ModerationAction
		found   bool
	}{
		{content: "ang BOBO mo", word: "bobo", action: ModerationActionMute, found: true},
		{content: "tanga ka talaga", word: "tanga", action: ModerationActionMute, found: true},
		{content: "chingchong ka", word: "chingchong", action: ModerationActionBoth, found: true},
		{content: "magandang umaga", found: false},
		{content: "", found: false},
	}
	for _, tc := range testCases {
		t.Run(
			tc.content, func(t *testing.T) {
				v, found := bot.moderator.Detect(tc.content)
				assert.Equal(t, tc.found, found)
				assert.Equal(t, tc.word, v.Word)
				assert.Equal(t, tc.action, v.Action)
			},
		)
	}
}

func TestModerator_Check(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)

	var unmuteAfter time.Duration
	var unmute func()
	bot.moderator.afterFunc = func(d time.Duration, f func()) *time.Timer {
		unmuteAfter = d
		unmute = f
		return nil
	}

	msg := testMessage(session, testUserID, "ang bobo naman")
	ctx := context.Background()
	require.True(t, bot.moderator.Check(ctx, msg))

	session.mu.Lock()
	assert.Contains(t, session.Deleted, msg.ID)
	assert.True(t, session.Mutes[testUserID])
	assert.Empty(t, session.Moved)
	session.mu.Unlock()

	warnings := session.sentTo(testTextChannelID)
	require.Len(t, warnings, 1)
	require.Len(t, warnings[0].Embeds, 1)
	assert.Contains(t, warnings[0].Embeds[0].Description, "`bobo`")

	assert.Len(t, session.sentTo("dm-"+testUserID), 1)
	assert.Len(t, session.sentTo(testAnnounceChanID), 1)

	require.NotNil(t, unmute)
	assert.Equal(t, bot.config.Moderation.MuteDuration, unmuteAfter)
	unmute()

	session.mu.Lock()
	assert.False(t, session.Mutes[testUserID])
	session.mu.Unlock()
	dms := session.sentTo("dm-" + testUserID)
	require.Len(t, dms, 2)
	assert.Equal(t, unmutedEmbed().Title, dms[1].Embeds[0].Title)
}

func TestModerator_CheckDisconnect(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	ctx := context.Background()
	require.NoError(t, bot.settings.SetWordAction(ctx, "ulol", ModerationActionDisconnect))

	require.True(t, bot.moderator.Check(ctx, testMessage(session, testUserID, "ULOL")))

	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, []string{testUserID}, session.Moved)
	assert.NotContains(t, session.Mutes, testUserID)
}

func TestModerator_CheckIgnored(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)
	ctx := context.Background()

	clean := testMessage(session, testUserID, "kumain ka na ba")
	assert.False(t, bot.moderator.Check(ctx, clean))

	fromBot := testMessage(session, testBotUserID, "bobo")
	fromBot.Author.Bot = true
	assert.False(t, bot.moderator.Check(ctx, fromBot))

	dm := testMessage(session, testUserID, "bobo")
	dm.GuildID = ""
	assert.False(t, bot.moderator.Check(ctx, dm))

	bot.moderator.config.Enabled = false
	assert.False(t, bot.moderator.Check(ctx, testMessage(session, testUserID, "bobo")))

	assert.Zero(t, session.sentCount())
}

func TestBot_HandleMessage_ModeratesCommands(t *testing.T) {
	t.Parallel()
	bot, session, _ := newTestBot(t)

	bot.handleMessage(context.Background(), testMessage(session, testUserID, "g!usap bobo ka"))

	session.mu.Lock()
	assert.True(t, session.Mutes[testUserID])
	session.mu.Unlock()
	for _, s := range session.sentTo(testTextChannelID) {
		assert.Empty(t, s.Content)
	}
}
