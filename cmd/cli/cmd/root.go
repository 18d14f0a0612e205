package cmd

import (
	"fmt"
	"os"
	"strings"

	"opsplane/pkg/api"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "opsctl",
	Short: "Opsctl is a command line tool for interacting with the opsplane platform",
	Long: `opsctl is the command-line interface for OpsPlane, the operation dispatch
and delivery tracking engine for device fleets.

Operators queue operations (commands, configs, profiles, policies) on devices.
Devices pull their pending work and report status back. Every dispatch is
tracked as an activity that shows where each device stands.

Common workflows:

  Queue a reboot on two devices:
    opsctl add --code REBOOT --type COMMAND --device android/d1 --device android/d2

  Follow the resulting activity:
    opsctl activity ACTIVITY_42

  Look at what a device still has to do:
    opsctl pending android/d1

  Act as a device:
    opsctl next android/d1
    opsctl update android/d1 42 --status COMPLETED --response '{"ok":true}'

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    OPSPLANE_URL      API endpoint (default: http://localhost:6161)
    OPSPLANE_TOKEN    Bearer token for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".opsctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".opsctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "OPSPLANE_VARNAME"
	viper.SetEnvPrefix("OPSPLANE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// client returns an API client, or nil after telling the user the token is missing.
func client(cmd *cobra.Command) *OpsClient {
	token := viper.GetString("token")
	if token == "" {
		cmd.Println("API token not found. Please set it using the --token flag or the OPSPLANE_TOKEN environment variable")
		return nil
	}
	return NewOpsClient(viper.GetString("url"), token)
}

func printError(cmd *cobra.Command, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("Error (%d): %s\n", apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("Error: %v\n", err)
}

// parseDevice reads a "type/id" argument.
func parseDevice(raw string) (api.Device, error) {
	deviceType, id, ok := strings.Cut(raw, "/")
	if !ok || deviceType == "" || id == "" {
		return api.Device{}, fmt.Errorf("device must be given as type/id, got %q", raw)
	}
	return api.Device{Type: deviceType, ID: id}, nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.opsctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "OpsPlane Controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Bearer token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
