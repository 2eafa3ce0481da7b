// Command ddmq is the CLI entrypoint for the broker: one cobra subcommand
// per operation, backed by internal/broker, internal/cleaner, and
// internal/admin.
package main

import "github.com/ddmq/ddmq/internal/cli"

func main() {
	cli.Execute()
}
