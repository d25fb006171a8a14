package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/medtracker/medtracker/internal/domain/access"
	"github.com/medtracker/medtracker/internal/domain/identity"
	"github.com/medtracker/medtracker/internal/domain/medication"
	"github.com/medtracker/medtracker/internal/platform/auth"
	"github.com/medtracker/medtracker/internal/platform/db"
	"github.com/medtracker/medtracker/migrations"
)

// migrationSource returns the embedded migrations unless dir overrides them.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationSource(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a patient or caretaker account",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			email, _ := cmd.Flags().GetString("email")
			roleFlag, _ := cmd.Flags().GetString("role")

			role, err := identity.ParseRole(roleFlag)
			if err != nil {
				return err
			}

			ctx := context.Background()
			_, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := identity.NewService(identity.NewUserRepo(pool), identity.NewMappingRepo(pool))
			u := &identity.User{Username: username, Email: email, Role: role}
			if err := svc.CreateUser(ctx, u); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %d (%s)\n", u.Role, u.ID, u.Email)
			return nil
		},
	}
	createCmd.Flags().String("username", "", "Display name")
	createCmd.Flags().String("email", "", "Unique email address")
	createCmd.Flags().String("role", "patient", "patient or caretaker")

	cmd.AddCommand(createCmd)
	return cmd
}

func mappingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mapping",
		Short: "Manage caretaker to patient mappings",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Let a caretaker monitor a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			caretakerID, _ := cmd.Flags().GetInt64("caretaker")
			patientID, _ := cmd.Flags().GetInt64("patient")
			if caretakerID <= 0 || patientID <= 0 {
				return fmt.Errorf("--caretaker and --patient are required")
			}

			ctx := context.Background()
			_, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := identity.NewService(identity.NewUserRepo(pool), identity.NewMappingRepo(pool))
			m, err := svc.CreateMapping(ctx, caretakerID, patientID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mapped caretaker %d to patient %d (mapping %d)\n", m.CaretakerID, m.PatientID, m.ID)
			return nil
		},
	}
	createCmd.Flags().Int64("caretaker", 0, "Caretaker user id")
	createCmd.Flags().Int64("patient", 0, "Patient user id")

	cmd.AddCommand(createCmd)
	return cmd
}

func tabletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tablet",
		Short: "Manage the tablet catalog",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Add a tablet to the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			dosage, _ := cmd.Flags().GetString("dosage")
			kind, _ := cmd.Flags().GetString("type")

			ctx := context.Background()
			_, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			users := identity.NewUserRepo(pool)
			mappings := identity.NewMappingRepo(pool)
			svc := medication.NewService(
				medication.NewScheduleRepo(pool),
				medication.NewLogRepo(pool),
				medication.NewTabletRepo(pool),
				users,
				access.NewChecker(mappings, nil),
				db.NewTransactor(pool),
			)
			t := &medication.Tablet{Name: name, Dosage: dosage, Type: kind}
			if err := svc.CreateTablet(ctx, t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created tablet %d: %s %s (%s)\n", t.ID, t.Name, t.Dosage, t.Type)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tablet name")
	createCmd.Flags().String("dosage", "", "Dosage, e.g. 500mg")
	createCmd.Flags().String("type", "tablet", "Form, e.g. tablet or capsule")

	cmd.AddCommand(createCmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bearer tokens",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetInt64("user")
			if userID <= 0 {
				return fmt.Errorf("--user is required")
			}

			ctx := context.Background()
			cfg, pool, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := cfg.Validate(); err != nil {
				return err
			}

			svc := identity.NewService(identity.NewUserRepo(pool), identity.NewMappingRepo(pool))
			u, err := svc.GetUser(ctx, userID)
			if err != nil {
				return err
			}

			tm := auth.NewTokenManager([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.TokenTTL)
			token, expires, err := tm.Issue(auth.Principal{UserID: u.ID, Role: string(u.Role)})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
	issueCmd.Flags().Int64("user", 0, "User id")

	cmd.AddCommand(issueCmd)
	return cmd
}
