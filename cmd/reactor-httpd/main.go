package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bp7968h/epoll-reactor/examples/httpd"
	"github.com/bp7968h/epoll-reactor/internal/app"
	"github.com/bp7968h/epoll-reactor/internal/handler"
)

const defaultBody = "<html><body><h1>it works</h1></body></html>"

func main() {
	log := logrus.New()
	var bodyFile string

	root := &cobra.Command{
		Use:   "reactor-httpd",
		Short: "Minimal single-page HTTP GET server built on the epoll reactor core",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := []byte(defaultBody)
			if bodyFile != "" {
				b, err := os.ReadFile(bodyFile)
				if err != nil {
					return err
				}
				body = b
			}
			return app.Run(log, cmd.Flags(), func(l logrus.FieldLogger) handler.EventHandler {
				return httpd.New(l, body)
			})
		},
	}
	app.BindFlags(root.Flags())
	root.Flags().StringVar(&bodyFile, "body-file", "", "file whose contents are served at \"/\" (default: a built-in placeholder page)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
