// solarctl 为站点运维命令行：创建管理员、重置密码、导入套餐与计算器参数、清理过期预约、检测数据库。
package main

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dsolar/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		debug   bool
		cfg     config.Config
	)

	cmd := &cobra.Command{
		Use:          "solarctl",
		Short:        "D-Solar site maintenance tool",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
			if debug {
				log.SetLevel(log.DebugLevel)
			}
			if cfgPath == "" {
				cfg = config.Load()
				return nil
			}
			cfg = config.Default()
			return config.LoadFile(cfgPath, &cfg)
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default: ./config.yaml|yml|json)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "verbose logging")

	get := func() config.Config { return cfg }
	cmd.AddCommand(
		createAdminCmd(get),
		setPasswordCmd(get),
		seedPackagesCmd(get),
		importCalculatorCmd(get),
		sweepCmd(get),
		dbCheckCmd(get),
	)
	return cmd
}
