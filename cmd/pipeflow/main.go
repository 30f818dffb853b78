package main

import "pipeflow/cmd/cli"

func main() {
	cli.Execute()
}
