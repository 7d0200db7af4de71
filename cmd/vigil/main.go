package main

import "github.com/vigil-ai/vigil/internal/cli"

func main() {
	cli.Execute()
}
