package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/console/service"
	"github.com/xela07ax/mission-control/internal/domain"
	"github.com/xela07ax/mission-control/internal/infra"
	"github.com/xela07ax/mission-control/internal/infra/auth"
	"github.com/xela07ax/mission-control/internal/validation"
)

// Из CLI можно выпустить ключ на срок дольше, чем через API
const maxCLIKeyDays = 3650

func newCreateAgentKeyCmd(a *app) *cobra.Command {
	var (
		req  domain.CreateAgentKeyRequest
		days int
	)

	cmd := &cobra.Command{
		Use:   "create-agent-key",
		Short: "Issue an API key for an OpenClaw agent",
		Example: `  mission-control create-agent-key --name openclaw-agent-1
  mission-control create-agent-key -n edge-7 --expires-days 30 --meta nodeId=node-7 --meta environment=prod`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if days < 0 || days > maxCLIKeyDays {
				return fmt.Errorf("--expires-days must be between 0 and %d, got %d", maxCLIKeyDays, days)
			}
			if msg, ok := validation.Struct(req); !ok {
				return fmt.Errorf("invalid agent key: %s", msg)
			}
			// Срок проверяем сами: у API предел ниже
			req.ExpiresInDays = days

			st, err := a.openStorage(ctx, infra.NewMetrics(nil))
			if err != nil {
				return err
			}
			defer st.Close(ctx)

			rec := audit.NewRecorder(st.store, a.logger)
			svc := service.NewAgentKeyService(st.keys, rec, a.cfg.Auth.BcryptCost, a.logger)
			key, err := svc.Create(ctx, service.SystemActor, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Agent API key created")
			fmt.Fprintf(out, "  ID:       %s\n", key.ID)
			fmt.Fprintf(out, "  Name:     %s\n", key.Name)
			fmt.Fprintf(out, "  Created:  %s\n", key.CreatedAt.Format(time.RFC3339))
			if key.ExpiresAt != nil {
				fmt.Fprintf(out, "  Expires:  %s\n", key.ExpiresAt.Format(time.RFC3339))
			} else {
				fmt.Fprintln(out, "  Expires:  never")
			}
			for k, v := range key.Metadata {
				fmt.Fprintf(out, "  Meta:     %s=%s\n", k, v)
			}
			fmt.Fprintf(out, "\nAPI key (shown once, store it now):\n  %s\n", key.APIKey)
			fmt.Fprintf(out, "\nUse it as the %s header:\n  curl -H '%[1]s: %s' http://%s/api/agent/me\n",
				auth.AgentKeyHeader, key.APIKey, a.cfg.Server.Addr())
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Name, "name", "n", "", "Agent name, e.g. openclaw-agent-1")
	cmd.Flags().IntVar(&days, "expires-days", 365, "Days until the key expires (0 = never)")
	cmd.Flags().StringToStringVar(&req.Metadata, "meta", nil, "Metadata key=value (repeatable)")
	cmd.Flags().StringSliceVar(&req.Permissions, "permission", nil, "Permission granted to the key (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
