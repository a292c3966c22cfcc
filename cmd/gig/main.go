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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gigline/internal/app"
	"gigline/internal/config"
	"gigline/internal/db"
	"gigline/internal/domain"
	"gigline/internal/engine"
	"gigline/internal/repo"
	"gigline/internal/server"

	"github.com/google/uuid"
)

var rootCmd = &cobra.Command{
	Use:   "gig",
	Short: "Gigline CLI",
	Long: `Gigline runs the freelance task lifecycle: clients post tasks, freelancers
apply, and one accepted application assigns the task. Statuses flow
draft -> open -> assigned -> in_progress -> submitted -> completed, with
cancellation available to the owner until the task is terminal. Every
transition is written together with its journal event; webhooks relay
those events to external collaborators like payment or notification
services.

Workspace: a .gigline directory holding the database; optional gigline.yml
tunes limits and webhooks. View the journal with 'gig log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GIGLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "acting principal identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(identityCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(applicationCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default gigline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func identityCmd() *cobra.Command {
	id := &cobra.Command{
		Use:   "identity",
		Short: "Manage principals",
		Long:  "A principal is an account bound to exactly one role, client or freelancer, chosen once at registration. Every operation is checked against that role.",
	}
	id.AddCommand(identityRegisterCmd())
	id.AddCommand(identityShowCmd())
	id.AddCommand(identityListCmd())
	return id
}

func identityRegisterCmd() *cobra.Command {
	var role, displayName string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the acting principal with a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Identity.Register(ctx, viper.GetString("actor-id"), domain.Role(role), displayName)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role (client or freelancer)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func identityShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a principal (defaults to the acting principal)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := viper.GetString("actor-id")
			if len(args) == 1 {
				target = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Identity.Resolve(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func identityListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List principals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListPrincipals(ctx, domain.Role(role))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Role", "Name", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Role, p.DisplayName, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are posted by clients and worked by one assigned freelancer. Owners publish, cancel, request revisions, and complete; the assignee starts work and submits deliverables.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskEditCmd())
	task.AddCommand(taskTransitionCmd("publish", "Publish a draft task", func(e engine.Engine) taskTransitionFn { return e.PublishTask }))
	task.AddCommand(taskTransitionCmd("cancel", "Cancel a task", func(e engine.Engine) taskTransitionFn { return e.CancelTask }))
	task.AddCommand(taskTransitionCmd("start", "Start work on an assigned task", func(e engine.Engine) taskTransitionFn { return e.StartWork }))
	task.AddCommand(taskSubmitCmd())
	task.AddCommand(taskReviseCmd())
	task.AddCommand(taskTransitionCmd("complete", "Approve the submission and complete the task", func(e engine.Engine) taskTransitionFn { return e.CompleteTask }))
	return task
}

type taskTransitionFn func(ctx context.Context, actorID, taskID string) (domain.Task, error)

func taskCreateCmd() *cobra.Command {
	var opts engine.CreateTaskOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().Int64Var(&opts.Budget, "budget", 0, "budget in cents")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("deadline")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.TaskStatus(status)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Owner", "Assignee", "Budget", "Deadline"})
				for _, t := range tasks {
					assignee := ""
					if t.AssignedFreelancerID != nil {
						assignee = *t.AssignedFreelancerID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.OwnerID, assignee, t.Budget, t.Deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OwnerID, "owner-id", "", "owner filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskEditCmd() *cobra.Command {
	var title, description, deadline string
	var budget int64
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a draft or open task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.EditTaskOptions{
				ActorID: viper.GetString("actor-id"),
				TaskID:  args[0],
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("deadline") {
				opts.Deadline = &deadline
			}
			if cmd.Flags().Changed("budget") {
				opts.Budget = &budget
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.EditTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (RFC3339)")
	cmd.Flags().Int64Var(&budget, "budget", 0, "budget in cents")
	return cmd
}

func taskTransitionCmd(use, short string, pick func(engine.Engine) taskTransitionFn) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := pick(e)(ctx, viper.GetString("actor-id"), id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	var deliverableJSON string
	cmd := &cobra.Command{
		Use:   "submit <id>",
		Short: "Submit a deliverable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if deliverableJSON == "" {
				return fmt.Errorf("--deliverable-json required")
			}
			var deliverable map[string]any
			if err := json.Unmarshal([]byte(deliverableJSON), &deliverable); err != nil {
				return fmt.Errorf("invalid deliverable JSON: %w", err)
			}
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SubmitWork(ctx, viper.GetString("actor-id"), id, deliverable)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&deliverableJSON, "deliverable-json", "", "deliverable JSON object")
	return cmd
}

func taskReviseCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "revise <id>",
		Short: "Send a submission back for revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.RequestRevision(ctx, viper.GetString("actor-id"), id, note)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "revision note")
	return cmd
}

func applicationCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "application",
		Short: "Manage applications",
		Long:  "Freelancers apply to open tasks. At most one active application per freelancer and task; accepting one rejects the pending siblings and assigns the task atomically.",
	}
	a.AddCommand(applicationApplyCmd())
	a.AddCommand(applicationListCmd())
	a.AddCommand(applicationGetCmd())
	a.AddCommand(applicationTransitionCmd("withdraw", "Withdraw an application", func(e engine.Engine) applicationTransitionFn { return e.WithdrawApplication }))
	a.AddCommand(applicationTransitionCmd("accept", "Accept an application and assign the task", func(e engine.Engine) applicationTransitionFn { return e.AcceptApplication }))
	a.AddCommand(applicationTransitionCmd("reject", "Reject an application", func(e engine.Engine) applicationTransitionFn { return e.RejectApplication }))
	return a
}

type applicationTransitionFn func(ctx context.Context, actorID, applicationID string) (domain.Application, error)

func applicationApplyCmd() *cobra.Command {
	var opts engine.ApplyOptions
	var proposedBudget int64
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply to an open task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("proposed-budget") {
				opts.ProposedBudget = &proposedBudget
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Apply(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "application id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.TaskID, "task", "", "task id")
	cmd.Flags().StringVar(&opts.Message, "message", "", "cover message")
	cmd.Flags().Int64Var(&proposedBudget, "proposed-budget", 0, "proposed budget in cents")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func applicationListCmd() *cobra.Command {
	var f repo.ApplicationFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.ApplicationStatus(status)
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListApplications(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Freelancer", "Status", "Proposed", "Created"})
				for _, a := range items {
					proposed := ""
					if a.ProposedBudget != nil {
						proposed = fmt.Sprintf("%d", *a.ProposedBudget)
					}
					tw.AppendRow(table.Row{a.ID, a.TaskID, a.FreelancerID, a.Status, proposed, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TaskID, "task", "", "task filter")
	cmd.Flags().StringVar(&f.FreelancerID, "freelancer-id", "", "freelancer filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func applicationGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetApplication(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func applicationTransitionCmd(use, short string, pick func(engine.Engine) applicationTransitionFn) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := pick(e)(ctx, viper.GetString("actor-id"), id)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				raw := "glk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:          uuid.NewString(),
					PrincipalID: viper.GetString("actor-id"),
					Name:        name,
					KeyHash:     repo.HashAPIKey(raw),
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("API key (shown once): %s\n", raw)
				return printJSONOrTable(key)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the acting principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, id)
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show workspace status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountTasksByStatus(ctx)
				if err != nil {
					return err
				}
				latest, err := e.Repo.LatestEventID(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"task_counts":     counts,
						"latest_event_id": latest,
					})
				}
				fmt.Println("Tasks:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				fmt.Printf("Latest event id: %d\n", latest)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event journal",
		Long:  "The journal records every committed transition: task changes, application decisions, and payment release requests.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer env.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("GIGLINE_JWT_SECRET"),
				AllowLegacyActorHeader: env.Config.Auth.AllowLegacyActorHeader,
				EnableDevLogin:         devLogin,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				return fmt.Errorf("GIGLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: env.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(env.Engine)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Gigline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable /auth/dev/login token endpoint")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	env, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env.Engine)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	env, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env.Engine.Repo)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
