package main

import "github.com/slotracer/slotman/cmd"

func main() {
	cmd.Execute()
}
