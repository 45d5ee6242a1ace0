// Package main is the entry point for the netprobe ARP and DHCP checker.
package main

import (
	"os"

	"firestige.xyz/netprobe/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
