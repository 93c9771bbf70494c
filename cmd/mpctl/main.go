package main

import "github.com/mcoot/mpserver/internal/cli"

func main() {
	cli.Execute()
}
