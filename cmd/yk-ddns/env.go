package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// bindEnv ties flags to environment variables. A flag set on the command line
// wins over the variable, which wins over the flag default.
func bindEnv(cmd *cobra.Command, envs map[string]string) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	for name, env := range envs {
		if cmd.Flags().Lookup(name) == nil {
			return nil, fmt.Errorf("unknown flag %q bound to %s", name, env)
		}
		if err := v.BindEnv(name, env); err != nil {
			return nil, err
		}
	}
	return v, nil
}
