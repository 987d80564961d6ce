package main

import "github.com/certusone/wormhole/portal/cmd"

func main() {
	cmd.Execute()
}
