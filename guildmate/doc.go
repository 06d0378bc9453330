// Package guildmate implements a Discord community bot with a coin and
// experience progression system, a daily fun-fact broadcast scheduler,
// trivia games backed by the Open Trivia DB, and a web dashboard for
// per-guild configuration.
package guildmate
