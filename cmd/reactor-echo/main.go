package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bp7968h/epoll-reactor/examples/echo"
	"github.com/bp7968h/epoll-reactor/internal/app"
	"github.com/bp7968h/epoll-reactor/internal/handler"
)

func main() {
	log := logrus.New()

	root := &cobra.Command{
		Use:   "reactor-echo",
		Short: "Line-delimited echo server built on the epoll reactor core",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(log, cmd.Flags(), func(l logrus.FieldLogger) handler.EventHandler {
				return echo.New(l)
			})
		},
	}
	app.BindFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
