// Package main is the entry point for the mixedstack CLI.
package main

import "mixedstack.dev/pkg/mixedstack/cmd"

func main() {
	cmd.Execute()
}
