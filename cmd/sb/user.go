package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
)

var roleNames = map[string]uint8{
	"none":       models.RoleNone,
	"employee":   models.RoleEmployee,
	"supervisor": models.RoleSupervisor,
	"reviewer":   models.RoleEmployeeReviewer,
	"manager":    models.RoleManager,
	"root":       models.RoleRoot,
}

func roleName(r uint8) string {
	for name, code := range roleNames {
		if code == r {
			return name
		}
	}
	return fmt.Sprintf("role-%d", r)
}

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage registered help desk users",
	}

	cmd.AddCommand(newUserAddCmd())
	cmd.AddCommand(newUserListCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var (
		configPath string
		role       string
		username   string
		manager    string
	)

	names := make([]string, 0, len(roleNames))
	for n := range roleNames {
		names = append(names, n)
	}
	sort.Strings(names)

	cmd := &cobra.Command{
		Use:   "add USER_ID NAME",
		Short: "Register a user or update an existing one",
		Long:  "Registers a chat user by platform ID. Roles: " + strings.Join(names, ", ") + ".",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, ok := roleNames[strings.ToLower(role)]
			if !ok {
				return fmt.Errorf("unknown role %q", role)
			}
			_, gormDB, err := openDB(configPath)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}
			u := models.RegisteredUser{
				UserID:   args[0],
				Name:     args[1],
				Username: username,
				Manager:  manager,
				Role:     code,
			}
			if err := db.UpsertUser(gormDB, u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s) as %s\n", u.Name, u.UserID, roleName(code))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().StringVar(&role, "role", "employee", "user role")
	cmd.Flags().StringVar(&username, "username", "", "platform handle shown in thread headers")
	cmd.Flags().StringVar(&manager, "manager", "", "the user's manager shown in thread headers")
	return cmd
}

func newUserListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered users",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := openDB(configPath)
			if err != nil {
				return err
			}
			users, err := db.ListUsers(gormDB)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(users) == 0 {
				fmt.Fprintln(out, "No registered users.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USER ID\tNAME\tUSERNAME\tROLE\tMANAGER")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.UserID, u.Name, u.Username, roleName(u.Role), u.Manager)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}
