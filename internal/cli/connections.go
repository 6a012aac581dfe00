package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/domain"
	"github.com/Martian-dev/mailsync/internal/providers/gmail"
	"github.com/Martian-dev/mailsync/internal/providers/outlook"
)

var (
	connID            string
	connProvider      string
	connName          string
	connEmail         string
	connCredentialRef string
	connStatus        string
)

var connectionsCmd = &cobra.Command{
	Use:     "connections",
	Aliases: []string{"conn"},
	Short:   "Manage provider connections",
}

var connectionsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a connection",
	Long: `Register an Outlook or Gmail connection. Tokens for it are served by the
token service under the connection id.

Examples:
  mailsync connections add --provider outlook --email ana@example.com --name Work
  mailsync connections add --provider gmail --id 7f3c... --name Personal`,
	Args: cobra.NoArgs,
	RunE: runConnectionsAdd,
}

var connectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connections",
	Args:  cobra.NoArgs,
	RunE:  runConnectionsList,
}

var connectionsVerifyCmd = &cobra.Command{
	Use:   "verify <connection-id>",
	Short: "Check the token and record the mailbox address",
	Long: `Verify fetches a token for the connection, asks the provider for the
mailbox profile and stores the address on the connection. A connection in
error status is moved back to connected on success.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnectionsVerify,
}

func init() {
	connectionsAddCmd.Flags().StringVar(&connID, "id", "", "connection id (generated if empty)")
	connectionsAddCmd.Flags().StringVarP(&connProvider, "provider", "p", "", "outlook or gmail")
	connectionsAddCmd.Flags().StringVarP(&connName, "name", "n", "", "display name")
	connectionsAddCmd.Flags().StringVarP(&connEmail, "email", "e", "", "mailbox address")
	connectionsAddCmd.Flags().StringVar(&connCredentialRef, "credential-ref", "", "reference into the token service")
	_ = connectionsAddCmd.MarkFlagRequired("provider")

	connectionsListCmd.Flags().StringVarP(&connStatus, "status", "s", "", "filter by status")

	connectionsCmd.AddCommand(connectionsAddCmd)
	connectionsCmd.AddCommand(connectionsListCmd)
	connectionsCmd.AddCommand(connectionsVerifyCmd)
}

func parseProvider(s string) (domain.ProviderName, error) {
	switch p := domain.ProviderName(strings.ToLower(strings.TrimSpace(s))); p {
	case domain.ProviderOutlook, domain.ProviderGmail:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider %q (want outlook or gmail)", s)
	}
}

func runConnectionsAdd(cmd *cobra.Command, args []string) error {
	provider, err := parseProvider(connProvider)
	if err != nil {
		return err
	}

	conn, err := eventStore.CreateConnection(cmd.Context(), domain.Connection{
		ID:            connID,
		Provider:      provider,
		DisplayName:   connName,
		AccountEmail:  connEmail,
		CredentialRef: connCredentialRef,
	})
	if err != nil {
		return fmt.Errorf("add connection: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added connection %s (%s)\n", conn.ID, conn.Provider)
	if conn.AccountEmail == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "No mailbox address yet, run: mailsync connections verify %s\n", conn.ID)
	}
	return nil
}

func runConnectionsList(cmd *cobra.Command, args []string) error {
	conns, err := eventStore.ListConnections(cmd.Context(), domain.ConnectionStatus(connStatus))
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(conns) == 0 {
		fmt.Fprintln(out, "No connections found")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-8s %-12s %-30s %s\n", "ID", "PROVIDER", "STATUS", "ACCOUNT", "LAST SYNC")
	for _, c := range conns {
		last := "never"
		if c.LastSyncAt != nil {
			last = c.LastSyncAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(out, "%-36s %-8s %-12s %-30s %s\n", c.ID, c.Provider, c.Status, c.AccountEmail, last)
	}
	return nil
}

func runConnectionsVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conn, err := eventStore.GetConnection(ctx, args[0])
	if err != nil {
		return err
	}

	token, err := auth.NewTokenClient(cfg.TokenServiceURL, cfg.TokenServiceKey).EnsureValidToken(ctx, conn.ID)
	if err != nil {
		return fmt.Errorf("obtain access token: %w", err)
	}

	var email string
	switch conn.Provider {
	case domain.ProviderOutlook:
		sdk := &outlook.SDK{BaseURL: cfg.GraphBaseURL}
		email, err = sdk.Profile(ctx, token)
	case domain.ProviderGmail:
		email, err = gmail.Profile(ctx, gmailOptions(cfg), token)
	default:
		return fmt.Errorf("unknown provider %q", conn.Provider)
	}
	if err != nil {
		return fmt.Errorf("fetch profile: %w", err)
	}

	if err := eventStore.SetAccountEmail(ctx, conn.ID, email); err != nil {
		return err
	}
	if conn.Status == domain.ConnectionError {
		if err := eventStore.SetConnectionStatus(ctx, conn.ID, domain.ConnectionConnected); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Connection %s verified: %s\n", conn.ID, email)
	return nil
}
