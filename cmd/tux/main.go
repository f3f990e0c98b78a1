package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/allthingslinux/tux/pkg/app"
)

func main() {
	root := &cobra.Command{
		Use:           "tux",
		Short:         "Discord guild administration bot",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context())
		},
	}
	root.AddCommand(newDBCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
