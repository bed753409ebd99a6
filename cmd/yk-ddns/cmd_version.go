package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yuriy-kovalchuk/yk-ddns/internal/dns"
)

func newCmdVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "yk-ddns version %s (%s)\n", Version, Commit)
			fmt.Fprintf(cmd.OutOrStdout(), "providers: %s\n", strings.Join(dns.Registered(), ", "))
			return nil
		},
	}
}
