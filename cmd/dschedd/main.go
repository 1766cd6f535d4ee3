package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var version = "dev"

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "dschedd"
	app.HelpName = "dschedd"
	app.Usage = "fires recurring schedules and delayed jobs onto work queues"
	app.UsageText = "dschedd <command> [arguments...]"
	app.Version = version
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "start the scheduler daemon",
			Action: run,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:   "config, c",
					Usage:  "path of the daemon configuration",
					Value:  "/etc/dsched/dsched.yaml",
					EnvVar: "DSCHED_CONFIG",
				},
			},
		},
		{
			Name:      "check",
			Usage:     "validate a schedule file and print when its entries fire next",
			ArgsUsage: "<schedule.yaml>",
			Action:    check,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "env, e",
					Usage: "only show entries visible in this environment",
				},
				cli.StringFlag{
					Name:  "location, l",
					Usage: "time zone cron expressions are evaluated in",
					Value: "UTC",
				},
			},
		},
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "dschedd:", err)
		os.Exit(1)
	}
}
