package main

import "github.com/mihaisavezi/cc-adapter/cmd"

func main() {
	cmd.Execute()
}
