// Package ginsilog implements Ginsilog Bot, a Discord community bot for a
// Filipino server.
//
// The bot listens for `g!` prefixed text commands and provides:
//
//   - A chat persona backed by an OpenAI-compatible LLM endpoint (Groq)
//   - An economy with a daily reward, transfers, a coin toss and blackjack
//   - Automatic nickname formatting (bold unicode plus a role emoji suffix)
//   - Voice channel text-to-speech and speech recognition
//   - Banned-word moderation, scheduled greetings and a maintenance mode
//
// Bot is the main entrypoint. It owns the Discord session, the database,
// background tasks and a small HTTP server for health and status checks.
package ginsilog

var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)
