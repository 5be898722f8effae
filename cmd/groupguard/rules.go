package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"groupguard/internal/config"
	"groupguard/internal/domain"
	"groupguard/internal/firewall"
	"groupguard/internal/rulefile"
	"groupguard/internal/store"
)

// openRules opens the rule database with a manager on top of it.
func openRules(cfg *config.Config) (*store.SQLiteStore, *firewall.RuleManager, *firewall.RuleCache, error) {
	if cfg.Storage.DBPath == "" {
		return nil, nil, nil, fmt.Errorf("storage.dbPath is not configured")
	}
	st, err := store.NewSQLiteStore(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	cache := firewall.NewRuleCache(st, time.Duration(cfg.Firewall.RuleCacheTTLMs)*time.Millisecond)
	return st, firewall.NewRuleManager(st, cache, logger), cache, nil
}

func withRules(fn func(ctx context.Context, mgr *firewall.RuleManager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, mgr, _, err := openRules(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), mgr)
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage firewall rules",
	}

	var chatFilter int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(func(ctx context.Context, mgr *firewall.RuleManager) error {
				rules, err := mgr.List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSCOPE\tCHAT\tPRIO\tENABLED\tNAME")
				for _, r := range rules {
					if chatFilter != 0 && r.Scope == domain.ScopeGroup && r.ChatID != chatFilter {
						continue
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\t%s\n", r.ID, r.Scope, r.ChatID, r.Priority, r.Enabled, r.Name)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().Int64Var(&chatFilter, "chat", 0, "only rules that apply to this chat")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "import [file.yaml...]",
		Short: "Create or update rules from YAML files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(func(ctx context.Context, mgr *firewall.RuleManager) error {
				total := 0
				for _, path := range args {
					rules, err := rulefile.LoadFile(path)
					if err != nil {
						return err
					}
					for _, r := range rules {
						saved, err := mgr.Upsert(ctx, r)
						if err != nil {
							return fmt.Errorf("%s: %w", path, err)
						}
						fmt.Printf("imported %s (%s)\n", saved.ID, saved.Name)
						total++
					}
				}
				logger.Info("rules imported", "count", total)
				return nil
			})
		},
	})

	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write all rules as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(func(ctx context.Context, mgr *firewall.RuleManager) error {
				rules, err := mgr.List(ctx)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					data, err := rulefile.Marshal(rules)
					if err != nil {
						return err
					}
					_, err = os.Stdout.Write(data)
					return err
				}
				if err := rulefile.WriteFile(out, rules); err != nil {
					return err
				}
				logger.Info("rules exported", "file", out, "count", len(rules))
				return nil
			})
		},
	}
	export.Flags().StringVarP(&out, "output", "o", "", "output file (default: stdout)")
	cmd.AddCommand(export)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRules(func(ctx context.Context, mgr *firewall.RuleManager) error {
				if err := mgr.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	})

	for _, enabled := range []bool{true, false} {
		use, short := "enable [id]", "Enable a rule"
		if !enabled {
			use, short = "disable [id]", "Disable a rule"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRules(func(ctx context.Context, mgr *firewall.RuleManager) error {
					r, err := mgr.SetEnabled(ctx, args[0], enabled)
					if err != nil {
						return err
					}
					fmt.Printf("%s enabled=%t\n", r.ID, r.Enabled)
					return nil
				})
			},
		})
	}

	return cmd
}

// fixedStatus answers every membership lookup with one Telegram status.
type fixedStatus string

func (s fixedStatus) MemberStatus(context.Context, int64, int64) (string, error) {
	return string(s), nil
}

func checkCmd() *cobra.Command {
	var (
		chatID int64
		userID int64
		status string
		media  []string
	)
	cmd := &cobra.Command{
		Use:   "check [text]",
		Short: "Dry-run a message against a chat's rules",
		Long: `Evaluates a sample message without touching Telegram or the violation
history and prints the matching rule and the actions it would take.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if chatID == 0 {
				return fmt.Errorf("--chat is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, _, cache, err := openRules(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			msg := domain.InboundMessage{
				Channel:   "check",
				ChatID:    chatID,
				ChatType:  "supergroup",
				SenderID:  userID,
				MessageID: 1,
				Timestamp: time.Now(),
			}
			if len(args) == 1 {
				msg.Text = args[0]
			}
			if err := applyMedia(&msg, media); err != nil {
				return err
			}

			eval := firewall.NewEvaluator(firewall.EvaluatorConfig{
				Rules:  cache,
				Roles:  firewall.NewRoleResolver(fixedStatus(status), logger),
				Logger: logger,
			})
			d, err := eval.Decide(context.Background(), msg)
			if err != nil {
				return err
			}
			if d == nil {
				fmt.Println("no rule matched")
				return nil
			}
			fmt.Printf("rule:    %s (%s, priority %d)\n", d.Rule.Name, d.Rule.ID, d.Rule.Priority)
			fmt.Printf("actions: %s\n", strings.Join(d.Labels, ", "))
			return nil
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat", 0, "chat id the message is posted in")
	cmd.Flags().Int64Var(&userID, "user", 1, "sender user id (0 = channel post)")
	cmd.Flags().StringVar(&status, "status", "member", "sender's Telegram status (creator, administrator, restricted, member)")
	cmd.Flags().StringSliceVar(&media, "media", nil, "attached media types (photo, video, document, ...)")
	return cmd
}

func applyMedia(msg *domain.InboundMessage, types []string) error {
	for _, t := range types {
		switch t {
		case "photo":
			msg.Media.Photo = true
		case "video":
			msg.Media.Video = true
		case "document":
			msg.Media.Document = true
		case "audio":
			msg.Media.Audio = true
		case "voice":
			msg.Media.Voice = true
		case "animation":
			msg.Media.Animation = true
		case "video_note":
			msg.Media.VideoNote = true
		case "sticker":
			msg.Media.Sticker = true
		default:
			return fmt.Errorf("unknown media type %q", t)
		}
	}
	if len(types) > 0 {
		msg.Caption, msg.Text = msg.Text, ""
	}
	return nil
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect moderation records",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list [chat-id]",
		Short: "Show the latest moderation records of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat id %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, _, _, err := openRules(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			recs, err := st.ListModeration(context.Background(), chatID, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tRULE\tUSER\tACTIONS\tREASON")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					r.CreatedAt.Local().Format(time.DateTime), r.RuleID, r.UserID, strings.Join(r.Actions, ", "), r.Reason)
			}
			return tw.Flush()
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "number of records")
	cmd.AddCommand(list)
	return cmd
}
