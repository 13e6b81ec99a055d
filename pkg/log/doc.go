/*
Package log provides structured logging for boardsync using zerolog.

The global Logger discards everything until Init is called, so packages can
log freely from tests. The boardsync binary calls Init once at startup from
the log section of its configuration:

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

JSON output is meant for production; the console writer is easier to read
while developing.

# Child Loggers

Components hold a child logger carrying their name, and add identifiers as
fields instead of formatting them into messages:

	logger := log.WithComponent("reconciler")
	logger.Warn().
		Str("board_id", boardID).
		Uint64("revision", rev).
		Msg("Revision gap timed out, refetching board")

WithBoardID, WithMutationID and WithTaskID start a logger from a single
identifier. Messages start with a capital letter and carry no trailing
punctuation.

# Levels

	debug   every applied change and acknowledgement
	info    lifecycle: server start, session open, presence connected
	warn    recoverable failures: rollbacks, refetches, reconnects
	error   failures that need an operator
*/
package log
