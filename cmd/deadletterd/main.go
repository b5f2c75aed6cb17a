package main

import "github.com/vietddude/deadletter/internal/cli"

func main() {
	cli.Execute()
}
