package main

import (
	"context"

	"omniasync-backend/cmd/omniasync-cli/commands"
	"omniasync-backend/lib/serviceutil"
	"omniasync-backend/lib/telemetry"
)

func main() {
	ctx := context.Background()

	t, err := telemetry.SetupFromEnv(ctx, "omniasync-cli")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer t.Shutdown(context.Background())
	telemetry.InitSlog(false)

	commands.ExecuteContext(ctx)
}
