package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/levelup/internal/detect"
)

var instructPath string

func init() {
	// detect command
	detectCmd := &cobra.Command{
		Use:   "detect [PATH]",
		Short: "Detect a project's language, framework and test tooling",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDetect,
	}
	rootCmd.AddCommand(detectCmd)

	// instruct command
	instructCmd := &cobra.Command{
		Use:   "instruct RULE",
		Short: "Record a standing rule for every future run of this project",
		Args:  cobra.ExactArgs(1),
		RunE:  runInstruct,
	}
	instructCmd.Flags().StringVar(&instructPath, "path", ".", "target repository path")
	rootCmd.AddCommand(instructCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	info := detect.NewFileDetector(newLogger(cfg)).Detect(path)
	if info.Language == "" {
		fmt.Printf("No language detected in %s\n", path)
		return nil
	}

	fmt.Printf("%-14s%s\n", "Language:", info.Language)
	fmt.Printf("%-14s%s\n", "Framework:", dash(info.Framework))
	fmt.Printf("%-14s%s\n", "Test runner:", dash(info.TestRunner))
	fmt.Printf("%-14s%s\n", "Test command:", dash(info.TestCommand))
	return nil
}

func runInstruct(cmd *cobra.Command, args []string) error {
	projectPath, err := filepath.Abs(instructPath)
	if err != nil {
		return err
	}

	if err := detect.AddInstruction(projectPath, args[0]); err != nil {
		return err
	}
	fmt.Printf("Rule recorded in %s\n", detect.NotePath(projectPath))
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
