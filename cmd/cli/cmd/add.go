package cmd

import (
	"encoding/json"

	"opsplane/pkg/api"

	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue an operation on devices",
	Long: `Queue one operation on a list of devices and print the resulting activity.
Devices that are not enrolled or not permitted are listed with their reason.

Example:
  opsctl add --code REBOOT --type COMMAND --device android/d1 --device android/d2
  opsctl add --code WIFI --type PROFILE --payload '{"ssid":"corp"}' --no-repeat --device ios/x1`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		code, _ := flags.GetString("code")
		opType, _ := flags.GetString("type")
		noRepeat, _ := flags.GetBool("no-repeat")
		disabled, _ := flags.GetBool("disabled")
		payload, _ := flags.GetString("payload")
		rawDevices, _ := flags.GetStringArray("device")

		c := client(cmd)
		if c == nil {
			return
		}

		if code == "" {
			cmd.Println("Error: --code is required")
			return
		}
		if len(rawDevices) == 0 {
			cmd.Println("Error: at least one --device is required")
			return
		}

		req := api.AddOperationRequest{Code: code, Type: opType}
		for _, raw := range rawDevices {
			d, err := parseDevice(raw)
			if err != nil {
				cmd.Printf("Error: %v\n", err)
				return
			}
			req.Devices = append(req.Devices, d)
		}
		if payload != "" {
			if !json.Valid([]byte(payload)) {
				cmd.Println("Error: --payload must be valid JSON")
				return
			}
			req.Payload = json.RawMessage(payload)
		}
		if noRepeat {
			req.Control = "NO_REPEAT"
		}
		if disabled {
			enabled := false
			req.Enabled = &enabled
		}

		activity, err := c.AddOperation(req)
		if err != nil {
			printError(cmd, err)
			return
		}
		printActivity(cmd, *activity)
	},
}

func init() {
	flags := addCmd.Flags()
	flags.StringP("code", "c", "", "Operation code, e.g. REBOOT (required)")
	flags.String("type", "COMMAND", "COMMAND, CONFIG, PROFILE, POLICY or GENERIC")
	flags.Bool("no-repeat", false, "Reuse an outstanding operation with the same code instead of queueing another")
	flags.Bool("disabled", false, "Queue the operation disabled")
	flags.StringP("payload", "p", "", "JSON payload")
	flags.StringArrayP("device", "d", nil, "Target device as type/id (repeatable, required)")

	rootCmd.AddCommand(addCmd)
}
