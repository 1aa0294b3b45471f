package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/dispatch-console/internal/intake"
	"github.com/example/dispatch-console/internal/models"
)

func newRequirementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "requirements <service>",
		Short:     "List the fields a service needs before driver assignment",
		Args:      cobra.ExactArgs(1),
		ValidArgs: serviceNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := models.ParseServiceType(args[0])
			if err != nil {
				return err
			}
			for _, f := range intake.Requirements(st) {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
}

func serviceNames() []string {
	out := make([]string, 0, len(models.ServiceTypes))
	for _, st := range models.ServiceTypes {
		out = append(out, string(st))
	}
	return out
}
