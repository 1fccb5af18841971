package main

import (
	"github.com/makrame5/healthconnect/cmd"
	"github.com/makrame5/healthconnect/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
