package main

import (
	"context"
	"os"

	"package-tracker/cmd/track-cli/commands"
	"package-tracker/lib/telemetry"
)

func main() {
	telemetry.InitSlog(os.Getenv("TRACK_DEBUG") != "")
	telemetry.SetupFromEnv(context.Background(), "track-cli")
	commands.ExecuteContext(context.Background())
}
