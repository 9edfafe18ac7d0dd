package main

import (
	"os"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
