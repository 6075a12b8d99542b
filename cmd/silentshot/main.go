package main

import "github.com/bryanchriswhite/SilentShot/cmd/silentshot/commands"

func main() {
	commands.Execute()
}
