package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cl "github.com/aep/firebind/cli"
	dev "github.com/aep/firebind/devserver"
)

var rootCmd = &cobra.Command{
	Use:   "firebind",
	Short: "firestore binding tools",
}

func init() {
	rootCmd.AddCommand(dev.CMD)
	cl.RegisterCommands(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
