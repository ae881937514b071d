package cmd

import (
	"github.com/spf13/cobra"

	"mytube-pipeline/config"
	server2 "mytube-pipeline/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start the gateway and processing workers",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
