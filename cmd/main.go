package main

import "github.com/dyike/CortexThesis/internal/cli"

func main() {
	cli.Run()
}
