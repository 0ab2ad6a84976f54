package main

import (
	"github.com/BioHazard786/warpchat/cmd"
	"github.com/BioHazard786/warpchat/internal/logging"
)

func main() {
	closeLog := logging.Init()
	defer closeLog()
	cmd.Execute()
}
