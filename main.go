package main

import "github.com/eraiza0816/discord-archive/cmd"

func main() {
	cmd.Execute()
}
