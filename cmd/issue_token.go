package cmd

import (
	"errors"
	"fmt"

	"github.com/psds-microservice/helpdesk-service/internal/auth"
	"github.com/psds-microservice/helpdesk-service/internal/config"
	"github.com/psds-microservice/helpdesk-service/internal/model"
	"github.com/spf13/cobra"
)

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token <subject>",
	Short: "Print a signed bearer token for a staff member (STAFF_TOKEN_SECRET)",
	Args:  cobra.ExactArgs(1),
	RunE:  runIssueToken,
}

var issueTokenRole string

func init() {
	issueTokenCmd.Flags().StringVar(&issueTokenRole, "role", string(model.RoleStaff), "staff or admin")
	rootCmd.AddCommand(issueTokenCmd)
}

func runIssueToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.StaffTokenSecret == "" {
		return errors.New("issue-token: STAFF_TOKEN_SECRET is not set")
	}
	tokens, err := auth.NewTokens(cfg.StaffTokenSecret, cfg.StaffTokenTTL, cfg.RevokedStaffIDs)
	if err != nil {
		return err
	}
	raw, exp, err := tokens.Issue(args[0], model.Role(issueTokenRole))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), raw)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.UTC().Format("2006-01-02 15:04:05Z"))
	return nil
}
