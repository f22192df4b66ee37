package main

import "github.com/jake-scott/ojmicroline-bridge/cmd"

func main() {
	cmd.Execute()
}
