package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Martian-dev/mailsync/internal/domain"
	"github.com/Martian-dev/mailsync/internal/enrich"
)

var (
	ruleName     string
	ruleField    string
	rulePattern  string
	ruleTag      string
	ruleDisabled bool
	rulesAll     bool
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage tagging rules",
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a regex tagging rule",
	Long: `Add a rule that tags every new event whose field matches the pattern.
Fields: subject, body, sender, any. Patterns use Go regexp syntax.

Examples:
  mailsync rules add --name invoices --field subject --pattern '(?i)invoice' --tag finance
  mailsync rules add --name boss --field sender --pattern '^ceo@example\.com$' --tag vip`,
	Args: cobra.NoArgs,
	RunE: runRulesAdd,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tagging rules",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

func init() {
	rulesAddCmd.Flags().StringVar(&ruleName, "name", "", "rule name")
	rulesAddCmd.Flags().StringVar(&ruleField, "field", enrich.FieldAny, "subject, body, sender or any")
	rulesAddCmd.Flags().StringVar(&rulePattern, "pattern", "", "regular expression")
	rulesAddCmd.Flags().StringVar(&ruleTag, "tag", "", "tag to attach")
	rulesAddCmd.Flags().BoolVar(&ruleDisabled, "disabled", false, "create the rule disabled")
	_ = rulesAddCmd.MarkFlagRequired("name")
	_ = rulesAddCmd.MarkFlagRequired("pattern")
	_ = rulesAddCmd.MarkFlagRequired("tag")

	rulesListCmd.Flags().BoolVarP(&rulesAll, "all", "a", false, "include disabled rules")

	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesListCmd)
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	rule := domain.Rule{
		Name:    ruleName,
		Field:   ruleField,
		Pattern: rulePattern,
		Tag:     ruleTag,
		Enabled: !ruleDisabled,
	}
	if err := enrich.ValidateRule(rule); err != nil {
		return err
	}

	rule, err := eventStore.CreateRule(cmd.Context(), rule)
	if err != nil {
		return fmt.Errorf("add rule: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added rule %s (%s)\n", rule.Name, rule.ID)
	return nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	rules, err := eventStore.ListRules(cmd.Context(), !rulesAll)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(rules) == 0 {
		fmt.Fprintln(out, "No rules found")
		return nil
	}
	fmt.Fprintf(out, "%-20s %-8s %-16s %-7s %s\n", "NAME", "FIELD", "TAG", "ENABLED", "PATTERN")
	for _, r := range rules {
		fmt.Fprintf(out, "%-20s %-8s %-16s %-7t %s\n", r.Name, r.Field, r.Tag, r.Enabled, r.Pattern)
	}
	return nil
}
