package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/transitlive/cmd/transitlive/app/options"
	"github.com/autopeer-io/transitlive/pkg/app"
	"github.com/autopeer-io/transitlive/pkg/log"
)

const (
	commandName = "transitlive"
	commandDesc = `transitlive runs on a driver or passenger device. Driver devices uplink
position fixes with an offline queue; every device keeps a live connection to
the backend and reconciles the fleet view from change events and polls.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()

	var application *app.App
	application = app.NewApp(
		commandName,
		"Launch the transitlive device agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
		app.WithCommands(
			newFleetCommand(opts, func() *app.App { return application }),
			newVersionCommand(),
		),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config(Version())
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
