package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tiergate/tiergate/internal/server"
	"github.com/tiergate/tiergate/pkg/licensing"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "tiergate",
	Short:   "tiergate - subscription billing and license service",
	Long:    `tiergate reconciles payment provider events into account tiers and issues signed, offline-verifiable license keys.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run(context.Background(), Version)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tiergate %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var (
	issueTier string
	issueDays int
)

// issue-license mints a license key out of band, for support cases and
// local testing. It uses the same secret the server signs with.
var issueLicenseCmd = &cobra.Command{
	Use:   "issue-license",
	Short: "Mint a signed license key without going through billing",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := strings.TrimSpace(os.Getenv("LICENSE_SECRET"))
		if secret == "" {
			return fmt.Errorf("LICENSE_SECRET must be set")
		}

		tier, ok := licensing.ParseTier(issueTier)
		if !ok || !tier.Paid() {
			return fmt.Errorf("tier must be one of: pro, diamond")
		}

		token, expires, err := licensing.NewCodec(secret).Issue(tier, issueDays)
		if err != nil {
			return err
		}

		fmt.Printf("tier:    %s\n", tier)
		fmt.Printf("expires: %s\n", expires.Format("2006-01-02"))
		fmt.Printf("license: %s\n", token)
		return nil
	},
}

func init() {
	issueLicenseCmd.Flags().StringVar(&issueTier, "tier", "pro", "tier to issue (pro or diamond)")
	issueLicenseCmd.Flags().IntVar(&issueDays, "days", 30, "validity in days")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(issueLicenseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
