package cmd

import (
	"net/url"
	"strconv"
	"strings"

	"opsplane/pkg/api"

	"github.com/spf13/cobra"
)

var activityCmd = &cobra.Command{
	Use:   "activity [activity_id]",
	Short: "Show where every device stands on one activity",
	Long: `Show the per-device status of an activity, with every response the
devices reported. Use --device to narrow it to one device.

Example:
  opsctl activity ACTIVITY_42
  opsctl activity ACTIVITY_42 --device android/d1`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rawDevice, _ := cmd.Flags().GetString("device")

		c := client(cmd)
		if c == nil {
			return
		}

		var device *api.Device
		if rawDevice != "" {
			d, err := parseDevice(rawDevice)
			if err != nil {
				cmd.Printf("Error: %v\n", err)
				return
			}
			device = &d
		}

		activity, err := c.GetActivity(args[0], device)
		if err != nil {
			printError(cmd, err)
			return
		}
		printActivity(cmd, *activity)
	},
}

var activitiesCmd = &cobra.Command{
	Use:   "activities",
	Short: "List activities",
	Long: `List activities by id, by operation code, or by last update.

Example:
  opsctl activities --ids ACTIVITY_1,ACTIVITY_2
  opsctl activities --code REBOOT --limit 20
  opsctl activities --since 2026-01-01T00:00:00Z --initiated-by alice`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		ids, _ := flags.GetStringSlice("ids")
		code, _ := flags.GetString("code")
		since, _ := flags.GetString("since")
		initiatedBy, _ := flags.GetString("initiated-by")
		limit, _ := flags.GetInt("limit")
		offset, _ := flags.GetInt("offset")

		c := client(cmd)
		if c == nil {
			return
		}

		q := url.Values{}
		switch {
		case len(ids) > 0:
			q.Set("ids", strings.Join(ids, ","))
		case code != "":
			q.Set("operation_code", code)
		default:
			if since != "" {
				q.Set("since", since)
			}
			if initiatedBy != "" {
				q.Set("initiated_by", initiatedBy)
			}
		}
		if len(ids) == 0 {
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
		}

		result, err := c.ListActivities(q)
		if err != nil {
			printError(cmd, err)
			return
		}

		if len(result.Activities) == 0 {
			cmd.Println("No activities found")
			return
		}
		for _, a := range result.Activities {
			printActivity(cmd, a)
		}
		if result.Count != nil {
			cmd.Printf("%s%d device states in total%s\n", colorDim, *result.Count, colorReset)
		}
	},
}

func init() {
	activityCmd.Flags().String("device", "", "Only show this device, as type/id")

	flags := activitiesCmd.Flags()
	flags.StringSlice("ids", nil, "Activity ids")
	flags.String("code", "", "Operation code")
	flags.String("since", "", "Updated after this time (RFC 3339 or epoch milliseconds)")
	flags.String("initiated-by", "", "Only activities started by this user")
	flags.Int("limit", 50, "Page size")
	flags.Int("offset", 0, "Page offset")

	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(activitiesCmd)
}
