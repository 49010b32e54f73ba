package main

import "github.com/bryanchriswhite/screenshare/cmd/screenshare/commands"

func main() {
	commands.Execute()
}
