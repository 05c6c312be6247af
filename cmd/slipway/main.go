package main

import "github.com/slipway-dev/slipway/internal/cli"

func main() {
	cli.Execute()
}
