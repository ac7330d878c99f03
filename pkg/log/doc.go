/*
Package log provides structured logging for Polis using zerolog.

# Architecture

A single package-level zerolog.Logger is configured once via Init and
read from everywhere else. Components derive a child logger tagged with
their name and relevant IDs rather than reaching for the bare global
logger, so every line carries enough context to grep by component or
container/image/deployment ID without string parsing.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	rt := log.WithComponent("runtime")
	rt.Info().Str("container_id", string(id)).Msg("container created")

	cl := log.WithContainerID(string(id))
	cl.Warn().Err(err).Msg("health check failed")

# Output

JSON (production):

	{"level":"info","component":"runtime","container_id":"c-1","time":"...","message":"container created"}

Console (development), selected via Config.JSONOutput=false:

	2024-01-15T10:30:00Z INF container created component=runtime container_id=c-1

# Notes

Init must run before any other package logs; until then Logger is the
zero value, which zerolog treats as a disabled no-op logger rather than
panicking. Never log secrets (tokens, passwords) — none of the core
components currently have a reason to.
*/
package log
