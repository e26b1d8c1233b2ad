package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vamsdb/gatekeeper/internal/model"
	"github.com/vamsdb/gatekeeper/internal/policy"
	"github.com/vamsdb/gatekeeper/internal/service"
)

// decisionOutput is the JSON form of a decision.
type decisionOutput struct {
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason"`
	Rule    string   `json:"rule,omitempty"`
	Roles   []string `json:"roles"`
}

func newDecisionOutput(d policy.Decision) decisionOutput {
	out := decisionOutput{Allowed: d.Allowed, Reason: string(d.Reason), Roles: d.Roles.Slice()}
	if d.Rule != nil {
		out.Rule = d.Rule.Source
	}
	return out
}

func printDecision(cmd *cobra.Command, d policy.Decision, jsonOutput bool) error {
	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), newDecisionOutput(d)); err != nil {
			return err
		}
	} else {
		verdict := "allowed"
		if !d.Allowed {
			verdict = "denied"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", verdict, d.Reason)
		if d.Rule != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "  rule:  %s\n", d.Rule)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  roles: %s\n", strings.Join(d.Roles.Slice(), ", "))
	}
	if !d.Allowed {
		return errDenied
	}
	return nil
}

// ---------- check ----------

func newCheckCmd() *cobra.Command {
	var (
		flags      identityFlags
		action     string
		object     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Decide whether a caller may perform an action on an object",
		Example: `  gatekeeper check -u alice@example.com --action GET \
    --object '{"object__type":"database","databaseId":"defense-assets"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw map[string]any
			if err := json.Unmarshal([]byte(object), &raw); err != nil {
				return fmt.Errorf("parse --object: %w", err)
			}
			obj := model.ObjectFromMap(raw)
			return withSession(cmd, &flags, func(s *service.Session) error {
				return printDecision(cmd, s.Decide(obj, action), jsonOutput)
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&action, "action", "GET", "Action to check")
	cmd.Flags().StringVar(&object, "object", "", "Object attributes as a JSON object")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("object")

	return cmd
}
