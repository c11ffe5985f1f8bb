package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"dsolar/internal/config"
	"dsolar/internal/services"
	"dsolar/internal/storage"
)

// withDB 打开数据库（含自动迁移），执行 fn 后关闭。
func withDB(cfg config.Config, fn func(db *gorm.DB) error) error {
	db, err := storage.InitMySQL(cfg)
	if err != nil {
		return err
	}
	defer storage.CloseMySQL(db)
	return fn(db)
}

func createAdminCmd(cfg func() config.Config) *cobra.Command {
	var email, name string
	c := &cobra.Command{
		Use:   "create-admin <username> <password>",
		Short: "Create a back-office admin account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cfg(), func(db *gorm.DB) error {
				u, err := services.NewAdminService(db, cfg()).Create(cmd.Context(), args[0], args[1], email, name)
				if err != nil {
					return err
				}
				log.WithFields(log.Fields{"id": u.ID, "username": u.Username}).Info("admin created")
				return nil
			})
		},
	}
	c.Flags().StringVar(&email, "email", "", "admin email")
	c.Flags().StringVar(&name, "name", "", "display name")
	return c
}

func setPasswordCmd(cfg func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "set-password <username> <password>",
		Short: "Reset an admin password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cfg(), func(db *gorm.DB) error {
				if err := services.NewAdminService(db, cfg()).SetPassword(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				log.WithField("username", args[0]).Info("password updated")
				return nil
			})
		},
	}
}

func seedPackagesCmd(cfg func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-packages",
		Short: "Insert the default package catalogue when the table is empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cfg(), func(db *gorm.DB) error {
				n, err := services.NewPackageService(db).SeedDefaults(cmd.Context())
				if err != nil {
					return err
				}
				log.WithField("inserted", n).Info("packages seeded")
				return nil
			})
		},
	}
}

func importCalculatorCmd(cfg func() config.Config) *cobra.Command {
	var dryRun bool
	c := &cobra.Command{
		Use:   "import-calculator <params.yaml>",
		Short: "Replace calculator parameters from a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var p services.CalculatorParams
			if err := yaml.Unmarshal(b, &p); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			if err := p.Validate(); err != nil {
				return err
			}
			if dryRun {
				log.WithField("regions", len(p.Regions)).Info("calculator params valid (dry run)")
				return nil
			}
			return withDB(cfg(), func(db *gorm.DB) error {
				pkgs := services.NewPackageService(db)
				calc := services.NewCalculatorService(services.NewSettingService(db), pkgs)
				if err := calc.SaveParams(cmd.Context(), &p); err != nil {
					return err
				}
				log.WithField("regions", len(p.Regions)).Info("calculator params imported")
				return nil
			})
		},
	}
	c.Flags().BoolVar(&dryRun, "dry-run", false, "validate only")
	return c
}

func sweepCmd(cfg func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Archive pending appointments whose confirmation link expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := cfg()
			return withDB(c, func(db *gorm.DB) error {
				mailSvc, err := services.NewMailService(services.NewMailer(c.Mail), c)
				if err != nil {
					return err
				}
				appts := services.NewAppointmentService(db, c, mailSvc, services.NewManageLinkService(c.ManageJWT))
				_, err = services.NewJanitor(appts, c.Booking.SweepInterval).RunOnce(cmd.Context())
				return err
			})
		},
	}
}

func dbCheckCmd(cfg func() config.Config) *cobra.Command {
	var timeout time.Duration
	c := &cobra.Command{
		Use:   "db-check",
		Short: "Ping MySQL with the configured DSN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := cfg().MySQL
			db, err := sql.Open("mysql", m.DSN())
			if err != nil {
				return err
			}
			defer db.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("ping %s: %w", m.DSNMasked(), err)
			}
			var version string
			if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
				return err
			}
			log.WithFields(log.Fields{"dsn": m.DSNMasked(), "version": version}).Info("mysql reachable")
			return nil
		},
	}
	c.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "ping timeout")
	return c
}
