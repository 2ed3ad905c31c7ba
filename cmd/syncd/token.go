package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xelth-com/taskchat-sync/internal/buildinfo"
	"github.com/xelth-com/taskchat-sync/internal/config"
	"github.com/xelth-com/taskchat-sync/internal/utils"
)

var (
	tokenSubject string
	tokenType    string
	tokenTTL     time.Duration
)

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "token subject")
	tokenCmd.Flags().StringVar(&tokenType, "type", utils.TokenTypeOperator, "token type (operator or device)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a control API token signed with SYNC_API_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.APISecret == "" {
			return errors.New("SYNC_API_SECRET is not set")
		}
		switch tokenType {
		case utils.TokenTypeOperator, utils.TokenTypeDevice:
		default:
			return fmt.Errorf("unknown token type %q", tokenType)
		}

		token, err := utils.GenerateToken(tokenSubject, tokenType, tokenTTL, cfg.APISecret)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("syncd %s\n", buildinfo.Version())
		if buildinfo.CommitTime != "" {
			fmt.Printf("last commit: %s\n", buildinfo.CommitTime)
		}
	},
}
