package main

import (
	"github.com/canvasart/tracker/cmd"
	"github.com/canvasart/tracker/config"
)

func main() {
	// ensure configuration initialized at first.
	config.Init()

	cmd.Execute()
}
