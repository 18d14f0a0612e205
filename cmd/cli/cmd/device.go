package cmd

import (
	"encoding/json"
	"strconv"
	"strings"

	"opsplane/pkg/api"

	"github.com/spf13/cobra"
)

var pendingCmd = &cobra.Command{
	Use:   "pending [type/id]",
	Short: "List the operations a device still has to run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		device, err := parseDevice(args[0])
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		c := client(cmd)
		if c == nil {
			return
		}

		ops, err := c.PendingOperations(device)
		if err != nil {
			printError(cmd, err)
			return
		}
		if len(ops) == 0 {
			cmd.Println("Nothing pending")
			return
		}
		for _, op := range ops {
			printOperationLine(cmd, op)
		}
	},
}

var nextCmd = &cobra.Command{
	Use:   "next [type/id]",
	Short: "Fetch the next operation for a device",
	Long: `Fetch the next operation a device should run, as the device would.
Operations the device deferred with NOTNOW come back once the throttle passed.

Example:
  opsctl next android/d1 --throttle-ms 60000`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		throttle, _ := cmd.Flags().GetInt("throttle-ms")

		device, err := parseDevice(args[0])
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		c := client(cmd)
		if c == nil {
			return
		}

		op, err := c.NextOperation(device, throttle)
		if err != nil {
			printError(cmd, err)
			return
		}
		if op == nil {
			cmd.Println("Nothing to do")
			return
		}
		printOperation(cmd, *op)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [type/id] [operation_id]",
	Short: "Report status or a response for an operation",
	Long: `Report a device's progress on an operation. Either --status or
--response is required; both may be given.

Example:
  opsctl update android/d1 42 --status IN_PROGRESS
  opsctl update android/d1 42 --status COMPLETED --response '{"uptime":1200}'`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		status, _ := flags.GetString("status")
		response, _ := flags.GetString("response")

		device, err := parseDevice(args[0])
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		operationID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			cmd.Printf("Error: invalid operation id %q\n", args[1])
			return
		}
		if status == "" && response == "" {
			cmd.Println("Error: --status or --response is required")
			return
		}

		req := api.UpdateStatusRequest{Status: strings.ToUpper(status)}
		if response != "" {
			if !json.Valid([]byte(response)) {
				cmd.Println("Error: --response must be valid JSON")
				return
			}
			req.Response = json.RawMessage(response)
		}

		c := client(cmd)
		if c == nil {
			return
		}
		if err := c.UpdateStatus(device, operationID, req); err != nil {
			printError(cmd, err)
			return
		}
		if req.Status != "" {
			cmd.Printf("✓ Operation %d on %s is now %s\n", operationID, args[0], colorizeStatus(req.Status))
		} else {
			cmd.Printf("✓ Response recorded for operation %d on %s\n", operationID, args[0])
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [type/id]",
	Short: "Show a device's operation history",
	Long: `Show the operations queued on a device, newest first. With --status only
operations in that status are listed.

Example:
  opsctl history android/d1 --limit 20
  opsctl history android/d1 --status ERROR`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		status, _ := flags.GetString("status")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")

		device, err := parseDevice(args[0])
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		c := client(cmd)
		if c == nil {
			return
		}

		result, err := c.DeviceHistory(device, strings.ToUpper(status), limit, offset)
		if err != nil {
			printError(cmd, err)
			return
		}
		if len(result.Operations) == 0 {
			cmd.Println("No operations found")
			return
		}
		for _, op := range result.Operations {
			printOperationLine(cmd, op)
		}
		if result.Total != nil {
			cmd.Printf("%sShowing %d of %d%s\n", colorDim, len(result.Operations), *result.Total, colorReset)
		}
	},
}

func init() {
	nextCmd.Flags().Int("throttle-ms", 0, "How long a deferred operation rests before it is offered again")

	updateCmd.Flags().StringP("status", "s", "", "PENDING, NOTNOW, IN_PROGRESS, COMPLETED, ERROR or REPEATED")
	updateCmd.Flags().StringP("response", "r", "", "JSON response payload")

	flags := historyCmd.Flags()
	flags.String("status", "", "Only operations in this status")
	flags.Int("limit", 50, "Page size")
	flags.Int("offset", 0, "Page offset")

	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(historyCmd)
}
