package main

import (
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/gwillem/armctl/internal/log"
)

type Options struct {
	LogLevel    string             `long:"log-level" default:"info" description:"Log level: debug, info, warn, error"`
	Scan        ScanCommand        `command:"scan" description:"Scan for arms and save a configuration"`
	Teleoperate TeleoperateCommand `command:"teleoperate" alias:"teleop" description:"Start teleoperation (leader-follower control)"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "armctl - leader/follower teleoperation for robot arms"
	parser.CommandHandler = func(command flags.Commander, args []string) error {
		log.Init(opts.LogLevel)
		return command.Execute(args)
	}

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
