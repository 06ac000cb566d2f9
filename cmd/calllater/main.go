package main

import "github.com/ramiqadoumi/go-call-later/internal/cli"

func main() {
	cli.Execute()
}
