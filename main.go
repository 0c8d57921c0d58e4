package main

import "github.com/furisto/parley/frontend/cli/cmd"

func main() {
	cmd.Execute()
}
