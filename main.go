package main

import "github.com/dryas/packsync/cmd"

func main() {
	cmd.Execute()
}
