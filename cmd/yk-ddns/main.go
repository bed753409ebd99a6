package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	_ "github.com/yuriy-kovalchuk/yk-ddns/internal/dns/providers"
)

// Build-time variables set via ldflags during releases.
var (
	Version = "dev"
	Commit  = "unknown"
)

// errRunFailed marks a run that finished but left at least one host behind.
// Details have already been printed by the time it is returned.
var errRunFailed = errors.New("one or more hosts could not be reconciled")

func newRootCmd() *cobra.Command {
	opts := zap.Options{
		Development: true,
		DestWriter:  os.Stderr,
	}
	var envFile string

	cmd := &cobra.Command{
		Use:           "yk-ddns",
		Short:         "Keep AAAA records pointed at this machine and allocate unique machine names",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
			if err := loadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			return nil
		},
	}

	goFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.BindFlags(goFlags)
	cmd.PersistentFlags().AddGoFlagSet(goFlags)
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment before flags are resolved")

	cmd.AddCommand(newCmdUpdate(), newCmdAllocate(), newCmdVersion())
	return cmd
}

// loadEnvFile loads a dotenv file without overriding variables that are
// already set. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

func main() {
	root := newRootCmd()
	if err := root.ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
