package main

import "github.com/vietddude/invoker/internal/cli"

func main() {
	cli.Execute()
}
