// Command botdispatch runs the bot message dispatch pipeline: the HTTP API
// that accepts deliveries, the worker that sends them, and small operator
// tasks (schema migration, key generation).
//
// @title           Bot Dispatch API
// @version         1.0
// @description     Queues outbound chat-bot messages for asynchronous, retried delivery.
// @BasePath        /api/v1
// @schemes         http https
//
// @securityDefinitions.apikey UserID
// @in header
// @name X-User-ID
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("botdispatch failed")
		os.Exit(1)
	}
}
