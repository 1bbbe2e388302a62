package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kicksmash/smashfs/fs"
)

func setupVersion(root *cobra.Command) {
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("smashfs %s\n", fs.Version)
			fmt.Printf("- go: %s\n", runtime.Version())
			fmt.Printf("- os/arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
}
