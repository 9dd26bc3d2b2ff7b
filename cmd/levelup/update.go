package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/levelup/internal/updater"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

var selfUpdateCheck bool

func init() {
	// version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the levelup version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("levelup %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
		},
	}
	rootCmd.AddCommand(versionCmd)

	// self-update command
	selfUpdateCmd := &cobra.Command{
		Use:   "self-update",
		Short: "Update levelup to the latest release",
		RunE:  runSelfUpdate,
	}
	selfUpdateCmd.Flags().BoolVar(&selfUpdateCheck, "check", false, "only report whether an update exists")
	rootCmd.AddCommand(selfUpdateCmd)
}

func runSelfUpdate(cmd *cobra.Command, args []string) error {
	u := updater.New()

	latest, err := u.Latest()
	if err != nil {
		return err
	}
	if !updater.NeedsUpdate(version, latest) {
		fmt.Printf("levelup %s is up to date\n", version)
		return nil
	}
	if selfUpdateCheck {
		fmt.Printf("Update available: %s -> %s\n", version, latest)
		return nil
	}

	fmt.Printf("Updating %s -> %s\n", version, latest)
	if err := u.SelfUpdate(latest); err != nil {
		return err
	}
	fmt.Println("Updated. The new binary is in place.")
	return nil
}
