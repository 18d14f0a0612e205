package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
)

var operationCmd = &cobra.Command{
	Use:   "operation [operation_id]",
	Short: "Show an operation",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			cmd.Printf("Error: invalid operation id %q\n", args[0])
			return
		}

		c := client(cmd)
		if c == nil {
			return
		}

		op, err := c.GetOperation(id)
		if err != nil {
			printError(cmd, err)
			return
		}
		printOperation(cmd, *op)
	},
}

func init() {
	rootCmd.AddCommand(operationCmd)
}
