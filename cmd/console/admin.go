package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/mission-control/internal/audit"
	"github.com/xela07ax/mission-control/internal/console/service"
	"github.com/xela07ax/mission-control/internal/domain"
	"github.com/xela07ax/mission-control/internal/infra"
	"github.com/xela07ax/mission-control/internal/validation"
)

func newCreateAdminCmd(a *app) *cobra.Command {
	var req domain.RegisterRequest

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account in the configured user storage",
		Example: `  mission-control create-admin --username root --email root@example.com --password 's3cret-pass'
  MC_ADMIN_PASSWORD='s3cret-pass' mission-control create-admin -u root -e root@example.com`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if req.Password == "" {
				req.Password = os.Getenv("MC_ADMIN_PASSWORD")
			}
			req.Role = domain.RoleAdmin
			if msg, ok := validation.Struct(req); !ok {
				return fmt.Errorf("invalid admin account: %s", msg)
			}

			st, err := a.openStorage(ctx, infra.NewMetrics(nil))
			if err != nil {
				return err
			}
			defer st.Close(ctx)

			rec := audit.NewRecorder(st.store, a.logger)
			svc := service.NewAuthService(st.users, nil, rec, a.cfg.Auth.BcryptCost, a.logger)
			u, err := svc.Create(ctx, service.SystemActor, req)
			if errors.Is(err, service.ErrUserExists) {
				return fmt.Errorf("user %q or email %q already exists", req.Username, req.Email)
			}
			if err != nil {
				return err
			}

			a.logger.Info("admin created", zap.String("user_id", u.ID), zap.String("username", u.Username))
			fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s (%s)\n", u.Username, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Username, "username", "u", "", "Admin username")
	cmd.Flags().StringVarP(&req.Email, "email", "e", "", "Admin email")
	cmd.Flags().StringVarP(&req.Password, "password", "p", "", "Admin password (or MC_ADMIN_PASSWORD)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
