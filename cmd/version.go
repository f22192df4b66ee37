package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/configentry"
	"github.com/jake-scott/ojmicroline-bridge/version"
)

var (
	_versionAsJSON bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display the version number of the bridge",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doVersion(); err != nil {
			return err
		}

		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&_versionAsJSON, "json", false, "Return version as JSON")
	errPanic(viper.GetViper().BindPFlag("json", versionCmd.Flags().Lookup("json")))

	rootCmd.AddCommand(versionCmd)
}

type versionResult struct {
	Version      string `json:"version"`
	EntryVersion int    `json:"entry_version"`
	GoVersion    string `json:"go_version"`
}

func doVersion() error {
	v := versionResult{
		Version:      version.Version,
		EntryVersion: configentry.CurrentVersion,
		GoVersion:    runtime.Version(),
	}

	if viper.GetBool("json") {
		b, err := json.MarshalIndent(v, "", "    ")
		if err != nil {
			return err
		}

		fmt.Println(string(b))
	} else {
		fmt.Printf("ojmicroline-bridge version %s (config entry v%d, %s)\n", v.Version, v.EntryVersion, v.GoVersion)
	}

	return nil
}
