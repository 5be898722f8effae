package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"groupguard/internal/config"
	"groupguard/internal/firewall/history"
	"groupguard/internal/rulefile"
	"groupguard/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your groupguard installation",
		Long: `Verifies that configuration, database, redis and rule files are
correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("groupguard doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'groupguard init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			if cfg.Telegram.Enabled {
				r.pass("Telegram", fmt.Sprintf("enabled, %d allowed chat(s)", len(cfg.Telegram.AllowChats)))
			} else {
				r.warn("Telegram", "disabled, moderation runs in dry mode")
			}

			if cfg.Storage.DBPath == "" {
				r.warn("Database", "storage.dbPath empty, firewall has no rules")
			} else if detail, err := checkDatabase(cfg.Storage.DBPath); err != nil {
				r.fail("Database", err.Error())
			} else {
				r.pass("Database", detail)
			}

			if cfg.Redis.Enabled {
				if err := checkRedis(cfg.Redis); err != nil {
					r.fail("Redis", err.Error())
				} else {
					r.pass("Redis", config.Sanitize(cfg).Redis.URL)
				}
			} else {
				r.warn("Redis", "disabled, violation history is lost on restart")
			}

			if dir := cfg.Firewall.RulesDir; dir != "" {
				rules, err := rulefile.LoadDirectory(dir, logger)
				if err != nil {
					r.fail("Rules dir", err.Error())
				} else {
					r.pass("Rules dir", fmt.Sprintf("%s (%d rules)", dir, len(rules)))
				}
			}

			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					r.warn("Metrics addr", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
				} else {
					r.pass("Metrics addr", cfg.Metrics.Addr+" available")
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return r.summary()
		},
	}
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *report) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *report) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func (r *report) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running groupguard.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned == 0 {
		fmt.Printf("\nAll checks passed! groupguard is ready to run.\n")
	}
	return nil
}

// checkDatabase opens the store, which also applies pending migrations.
func checkDatabase(dbPath string) (string, error) {
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return "", err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		return "", fmt.Errorf("cannot ping: %w", err)
	}
	v, err := st.SchemaVersion()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (schema v%d)", dbPath, v), nil
}

func checkRedis(cfg config.RedisConfig) error {
	rs, err := history.NewRedisStore(cfg.URL, cfg.Password)
	if err != nil {
		return err
	}
	return rs.Close()
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
