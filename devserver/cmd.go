package devserver

import (
	"github.com/spf13/cobra"
)

var listen string

var CMD = &cobra.Command{
	Use:   "dev",
	Short: "start a local development server backed by the in-memory store",
	Run: func(cmd *cobra.Command, args []string) {
		Main(listen)
	},
}

func init() {
	CMD.Flags().StringVar(&listen, "listen", ":5061", "address to serve HTTP on")
}
