package main

import "github.com/yapay-ai/usage-sentinel/internal/cli"

func main() {
	cli.Execute()
}
