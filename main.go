package main

import "github/chapool/gem-payout/cmd"

func main() {
	cmd.Execute()
}
