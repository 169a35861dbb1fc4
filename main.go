package main

import "github.com/epalmerini/msgscope/cmd"

func main() {
	cmd.Execute()
}
