package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ryanoZphoto/aws/internal/config"
	"github.com/ryanoZphoto/aws/internal/db"
	"github.com/ryanoZphoto/aws/internal/domain"
	"github.com/ryanoZphoto/aws/internal/engine"
	"github.com/ryanoZphoto/aws/internal/migrate"
	"github.com/ryanoZphoto/aws/internal/repo"
	"github.com/ryanoZphoto/aws/internal/scheduler"
	"github.com/ryanoZphoto/aws/internal/secrets"
	"github.com/ryanoZphoto/aws/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "awsctl",
	Short: "Cloud task execution engine",
	Long: `awsctl stores encrypted provider credentials, describes read-only inventory
tasks against cloud services, runs them on demand or on a daily/weekly/monthly
cadence, and keeps a durable record of every execution and its result.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

// errRunFailed signals a recorded execution failure already reported to the
// user; main exits non-zero without printing it again.
var errRunFailed = errors.New("task execution failed")

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Println("error:", err)
		}
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AWSCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "local-user", "user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(credentialCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(executionsCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func userID() string { return viper.GetString("user") }

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	cipher, err := secrets.FromEnv()
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg, cipher))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func credentialCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "credential", Short: "Manage provider credentials"}
	cmd.AddCommand(credentialAddCmd())
	cmd.AddCommand(credentialListCmd())
	cmd.AddCommand(credentialSetDefaultCmd())
	cmd.AddCommand(credentialRemoveCmd())
	return cmd
}

func credentialAddCmd() *cobra.Command {
	var opts engine.CredentialCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store an encrypted credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.UserID = userID()
				c, err := e.CreateCredential(ctx, opts)
				if err != nil {
					return err
				}
				fmt.Printf("credential %s stored (default=%t)\n", c.ID, c.IsDefault)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "credential name")
	cmd.Flags().StringVar(&opts.AccessKeyID, "access-key-id", "", "provider access key id")
	cmd.Flags().StringVar(&opts.SecretAccessKey, "secret-access-key", "", "provider secret access key")
	cmd.Flags().StringVar(&opts.SessionToken, "session-token", "", "provider session token")
	cmd.Flags().StringVar(&opts.Region, "region", "", "provider region")
	cmd.Flags().StringVar(&opts.RoleARN, "role-arn", "", "role to assume before calls")
	cmd.Flags().BoolVar(&opts.IsDefault, "default", false, "make this the default credential")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("access-key-id")
	cmd.MarkFlagRequired("secret-access-key")
	return cmd
}

func credentialListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCredentials(ctx, userID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Region", "Default", "Active"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Region, c.IsDefault, c.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func credentialSetDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-default <credential-id>",
		Short: "Make a credential the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.SetDefaultCredential(ctx, args[0], userID()); err != nil {
					return err
				}
				fmt.Printf("credential %s is now the default\n", args[0])
				return nil
			})
		},
	}
}

func credentialRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <credential-id>",
		Short: "Delete a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteCredential(ctx, args[0], userID()); err != nil {
					return err
				}
				fmt.Printf("credential %s removed\n", args[0])
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskAddCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskShowCmd())
	cmd.AddCommand(taskRemoveCmd())
	return cmd
}

func taskAddCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var frequency, paramsJSON string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.UserID = userID()
				opts.Frequency = domain.TaskFrequency(frequency)
				if paramsJSON != "" {
					if err := json.Unmarshal([]byte(paramsJSON), &opts.Params); err != nil {
						return fmt.Errorf("invalid --params: %w", err)
					}
				}
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				fmt.Printf("task %s created (%s/%s, %s)\n", t.ID, t.Service, t.Operation, t.Frequency)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "task name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "task description")
	cmd.Flags().StringVar(&opts.Service, "service", "", "provider service (s3, ec2, rds, ...)")
	cmd.Flags().StringVar(&opts.Operation, "operation", "", "operation to run (list_buckets, describe_instances, ...)")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "operation parameters as JSON")
	cmd.Flags().StringVar(&frequency, "frequency", "on_demand", "daily, weekly, monthly or on_demand")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("service")
	cmd.MarkFlagRequired("operation")
	return cmd
}

func taskListCmd() *cobra.Command {
	var frequency string
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTasks(ctx, repo.TaskFilters{
					UserID:     userID(),
					Frequency:  domain.TaskFrequency(frequency),
					ActiveOnly: activeOnly,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Service", "Operation", "Frequency", "Active"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Service, t.Operation, t.Frequency, t.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&frequency, "frequency", "", "filter by cadence")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				t, err := r.GetUserTask(ctx, args[0], userID())
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
}

func taskRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <task-id>",
		Short: "Delete a task and its execution history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteTask(ctx, args[0], userID()); err != nil {
					return err
				}
				fmt.Printf("task %s removed\n", args[0])
				return nil
			})
		},
	}
}

func runCmd() *cobra.Command {
	var credentialID string
	cmd := &cobra.Command{
		Use:   "run <task-id>",
		Short: "Run a task now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetUserTask(ctx, args[0], userID()); err != nil {
					return err
				}
				var credPtr *string
				if credentialID != "" {
					credPtr = &credentialID
				}
				exec, err := e.Execute(ctx, args[0], credPtr)
				if exec.ID != "" {
					if viper.GetBool("json") {
						printJSON(exec)
					} else {
						fmt.Printf("execution %s: %s\n", exec.ID, exec.Status)
						if exec.ErrorMessage != nil {
							fmt.Printf("  error: %s\n", *exec.ErrorMessage)
						}
					}
				}
				if err != nil && exec.ID != "" {
					// the failure is recorded on the execution and already printed
					return errRunFailed
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&credentialID, "credential", "", "credential id (defaults to the user's default credential)")
	return cmd
}

func executionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "executions <task-id>",
		Short: "List executions for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if _, err := r.GetUserTask(ctx, args[0], userID()); err != nil {
					return err
				}
				items, err := r.ListExecutions(ctx, repo.ExecutionFilters{TaskID: args[0], Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Started", "Completed", "Error"})
				for _, e := range items {
					completed, errMsg := "", ""
					if e.CompletedAt != nil {
						completed = *e.CompletedAt
					}
					if e.ErrorMessage != nil {
						errMsg = *e.ErrorMessage
					}
					tw.AppendRow(table.Row{e.ID, e.Status, e.StartedAt, completed, errMsg})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep <daily|weekly|monthly>",
		Short: "Run all active tasks on a cadence now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			freq := domain.TaskFrequency(args[0])
			switch freq {
			case domain.FrequencyDaily, domain.FrequencyWeekly, domain.FrequencyMonthly:
			default:
				return fmt.Errorf("unknown sweep frequency %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				log := zerolog.New(os.Stderr).With().Timestamp().Logger()
				s := scheduler.New(e.Repo, e, e.Config, log)
				outcomes, err := s.Sweep(ctx, freq)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(outcomes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Execution", "Status", "Error"})
				for _, o := range outcomes {
					tw.AppendRow(table.Row{o.TaskID, o.ExecutionID, o.Status, o.Error})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyRevokeCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the raw key is shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, raw, err := e.CreateAPIKey(ctx, userID(), name)
				if err != nil {
					return err
				}
				fmt.Printf("api key %s created\nkey: %s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, userID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, userID())
				if err != nil {
					return err
				}
				for _, k := range keys {
					if k.ID == args[0] {
						if err := r.DeleteAPIKey(ctx, k.ID); err != nil {
							return err
						}
						fmt.Printf("api key %s revoked\n", args[0])
						return nil
					}
				}
				return repo.ErrNotFound
			})
		},
	}
}

func logCmd() *cobra.Command {
	var entityKind, entityID string
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListEvents(ctx, repo.EventFilters{
					UserID:     userID(),
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Payload"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&entityKind, "kind", "", "filter by entity kind")
	cmd.Flags().StringVar(&entityID, "id", "", "filter by entity id")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var withScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			cipher, err := secrets.FromEnv()
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg, cipher)

			authCfg := server.AuthConfig{JWTSecret: os.Getenv("AWSCTL_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("AWSCTL_JWT_SECRET is required for bearer auth")
			}

			log := zerolog.New(os.Stderr).With().Timestamp().Logger()
			sweeper := scheduler.New(e.Repo, e, cfg, log)
			if withScheduler {
				sweeper.Start()
				defer sweeper.Stop()
			}

			handler, err := server.New(server.Config{Engine: e, Sweeper: sweeper, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Info().Str("addr", addr).Str("base_path", basePath).Bool("scheduler", withScheduler).Msg("serving task execution API")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to awsctl.yml server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&withScheduler, "scheduler", true, "run cadence sweeps in-process")
	return cmd
}
