/*
Package main is the entry point for MicroAgent.

Without a subcommand the objective given on the command line is pursued in the
foreground; "serve" starts the HTTP server and "version" prints the build.
The process exits with 0 when the objective is achieved and 1 otherwise.
*/
package main

import (
	"os"

	"microagent/cli"
)

func main() {
	os.Exit(cli.Execute())
}
