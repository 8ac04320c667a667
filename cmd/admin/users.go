package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/qs3c/statdig_server/internal/model"
	"github.com/qs3c/statdig_server/internal/model/dto"
	"github.com/qs3c/statdig_server/internal/repository"
	"github.com/qs3c/statdig_server/internal/service"
)

var (
	newUsername string
	newPassword string
	newEmail    string
	newAdmin    bool

	adminUsername string
	adminPassword string
)

// createUserCmd 创建用户
var createUserCmd = &cobra.Command{
	Use:     "create-user",
	Short:   "Create a user account",
	Example: `  statdig-admin create-user --username root --password 'changeme123' --admin`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.log.Sync()

		role := model.RoleUser
		if newAdmin {
			role = model.RoleAdmin
		}

		authService := service.NewAuthService(repository.NewUserRepository(e.db), e.cfg, e.log)
		user, err := authService.CreateUser(&dto.CreateUserRequest{
			Username: newUsername,
			Email:    newEmail,
			Password: newPassword,
			Role:     role,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "created %s user %q (id %d)\n", user.Role, user.Username, user.ID)
		return nil
	},
}

// initAdminCmd 仅在没有任何管理员时创建，可重复执行
var initAdminCmd = &cobra.Command{
	Use:   "init-admin",
	Short: "Create the first admin if none exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.log.Sync()

		authService := service.NewAuthService(repository.NewUserRepository(e.db), e.cfg, e.log)
		created, err := authService.EnsureAdmin(adminUsername, adminPassword)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %q\n", adminUsername)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "an admin already exists, nothing to do")
		}
		return nil
	},
}

// listUsersCmd 列出全部用户
var listUsersCmd = &cobra.Command{
	Use:   "list-users",
	Short: "List user accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.log.Sync()

		authService := service.NewAuthService(repository.NewUserRepository(e.db), e.cfg, e.log)
		users, err := authService.ListUsers()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSERNAME\tROLE\tEMAIL\tCREATED")
		for _, u := range users {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Role, u.Email, u.CreatedAt)
		}
		return w.Flush()
	},
}

func init() {
	createUserCmd.Flags().StringVar(&newUsername, "username", "", "username (required)")
	createUserCmd.Flags().StringVar(&newPassword, "password", "", "password, at least 8 characters (required)")
	createUserCmd.Flags().StringVar(&newEmail, "email", "", "optional email")
	createUserCmd.Flags().BoolVar(&newAdmin, "admin", false, "grant the admin role")
	_ = createUserCmd.MarkFlagRequired("username")
	_ = createUserCmd.MarkFlagRequired("password")

	initAdminCmd.Flags().StringVar(&adminUsername, "username", "admin", "admin username")
	initAdminCmd.Flags().StringVar(&adminPassword, "password", "", "admin password (required)")
	_ = initAdminCmd.MarkFlagRequired("password")
}
