package main

import "github.com/mcoot/pvg/internal/cli"

func main() {
	cli.Execute()
}
