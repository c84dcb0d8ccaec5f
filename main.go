package main

import "github.com/draiimon/gnslgbot2/cmd"

func main() {
	cmd.Execute()
}
