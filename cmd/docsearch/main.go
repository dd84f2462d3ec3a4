package main

import "github.com/darpa-sail-on/docsearch/internal/cli"

func main() {
	cli.Execute()
}
