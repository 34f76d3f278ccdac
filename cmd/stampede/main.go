// Command stampede runs staged HTTP load tests described in YAML.
//
// Usage:
//
//	stampede run --config configs/voting-app.yaml [--target-url URL]
//	stampede testserver --addr :8080
//	stampede history --db stampede.db
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
