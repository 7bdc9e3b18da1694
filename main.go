package main

import (
	"github.com/sirupsen/logrus"

	"github.com/hogwatch/hogwatch/cmd"
)

// init sets logrus to InfoLevel by default, ensuring basic operational logs
// are visible unless overridden by flags like --debug or --log-level in cmd.
func init() {
	logrus.SetLevel(logrus.InfoLevel)
}

func main() {
	cmd.Execute()
}
