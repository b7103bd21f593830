package main

import "portfwd/fwd/cmd"

func main() {
	cmd.Run()
}
