package main

import (
	"os"

	"github.com/bloveless/esp32-iot-desk/cmd/iot-desk/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
