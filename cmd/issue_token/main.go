package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xelth-com/yatrasync/internal/config"
	"github.com/xelth-com/yatrasync/internal/utils"
)

var rootCmd = &cobra.Command{
	Use:   "issue_token [device-id]",
	Short: "Issue a device or operator token signed with JWT_SECRET",
	Long: `Issue a device or operator token signed with JWT_SECRET.

Device tokens go into the scanner's DEVICE_TOKEN. Without a device ID a new
one is generated; set it as the scanner's DEVICE_ID too. Operator tokens
(--admin) are needed to import participants, print badges and block devices.

Token lifetime defaults to DEVICE_TOKEN_TTL (no expiry when unset).`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ttl := cfg.TokenTTL
		if cmd.Flags().Changed("ttl") {
			ttl, _ = cmd.Flags().GetDuration("ttl")
		}

		if admin, _ := cmd.Flags().GetBool("admin"); admin {
			if len(args) == 0 {
				return errors.New("an operator name is required with --admin")
			}
			token, err := utils.IssueAdminToken(args[0], cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		}

		deviceID := uuid.NewString()
		if len(args) == 1 {
			deviceID = args[0]
		}
		token, err := utils.IssueDeviceToken(deviceID, cfg.JWTSecret, ttl)
		if err != nil {
			return err
		}
		fmt.Printf("DEVICE_ID=%s\nDEVICE_TOKEN=%s\n", deviceID, token)
		return nil
	},
}

func main() {
	rootCmd.Flags().Bool("admin", false, "issue an operator token instead of a device token")
	rootCmd.Flags().Duration("ttl", 0, "token lifetime, e.g. 720h (overrides DEVICE_TOKEN_TTL)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
