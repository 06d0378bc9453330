package main

import "github.com/avencel/guildmate/cmd"

func main() {
	cmd.Execute()
}
