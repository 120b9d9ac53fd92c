package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loandesk/internal/app"
	"loandesk/internal/config"
	"loandesk/internal/db"
	"loandesk/internal/domain"
	"loandesk/internal/engine"
	"loandesk/internal/migrate"
	"loandesk/internal/repo"
	"loandesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ld",
	Short: "Loandesk CLI",
	Long: `Loandesk manages a loan advisory practice: clients, loan types, and the
task checklists that drive every engagement.
Core concepts:
- Workspace: your .loandesk data directory with the practice database.
- Client: a person or business the practice advises.
- Loan type: a reusable product definition (Home Loan, SMSF Loan, ...).
- Task template: one reusable checklist step; linked to loan types.
- Assignment: a loan type given to a client. Assigning clones every linked
  template into that client's own mutable task list.
- Tasks: cloned or ad-hoc steps with due dates, statuses
  (pending -> in_progress -> ready_for_review -> completed, or skipped),
  priorities, and note logs. Overdue is computed, never stored.
- Event log: diary of changes, view with 'ld log tail'.`,
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
	viper.SetEnvPrefix("LOANDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("workspace-id", "", "workspace id (overrides the stored default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("workspace-id", rootCmd.PersistentFlags().Lookup("workspace-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(clientCmd())
	rootCmd.AddCommand(loanTypeCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			w, err := e.InitWorkspace(cmd.Context(), engine.InitWorkspaceOptions{
				ID:      id,
				Name:    name,
				ActorID: viper.GetString("actor-id"),
			})
			if err != nil {
				return err
			}
			return printJSONOrTable(w)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workspace id (random UUID if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "workspace name")
	return cmd
}

func clientCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "client",
		Short: "Manage clients",
	}
	c.AddCommand(clientAddCmd())
	c.AddCommand(clientListCmd())
	c.AddCommand(clientShowCmd())
	c.AddCommand(clientUpdateCmd())
	return c
}

func clientAddCmd() *cobra.Command {
	var name, email, phone string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateClient(ctx, engine.CreateClientOptions{
					WorkspaceID: e.Config.Workspace.ID,
					Name:        name,
					Email:       email,
					Phone:       phone,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "client name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func clientListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListClients(ctx, e.Config.Workspace.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Phone", "Status"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Email, c.Phone, c.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func clientShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetClient(ctx, e.Config.Workspace.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func clientUpdateCmd() *cobra.Command {
	var name, email, phone, status string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := repo.ClientUpdate{
				Name:   changedString(cmd, "name", &name),
				Email:  changedString(cmd, "email", &email),
				Phone:  changedString(cmd, "phone", &phone),
				Status: changedString(cmd, "status", &status),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateClient(ctx, engine.UpdateClientOptions{
					WorkspaceID: e.Config.Workspace.ID,
					ClientID:    args[0],
					Patch:       patch,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "client name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&status, "status", "", "status (active, archived)")
	return cmd
}

func loanTypeCmd() *cobra.Command {
	lt := &cobra.Command{
		Use:   "loantype",
		Short: "Manage loan types",
		Long:  "Loan types are reusable product definitions. Link task templates to them so assigning the loan type clones a ready-made checklist.",
	}
	lt.AddCommand(loanTypeAddCmd())
	lt.AddCommand(loanTypeListCmd())
	lt.AddCommand(loanTypeShowCmd())
	lt.AddCommand(loanTypeUpdateCmd())
	lt.AddCommand(loanTypeTemplatesCmd())
	return lt
}

func loanTypeAddCmd() *cobra.Command {
	var name, description, category string
	var stages []string
	var minAmount, maxAmount, minRate, maxRate float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a loan type",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CreateLoanTypeOptions{
				Name:        name,
				Description: description,
				Category:    category,
				Stages:      stages,
				MinAmount:   changedFloat(cmd, "min-amount", &minAmount),
				MaxAmount:   changedFloat(cmd, "max-amount", &maxAmount),
				MinRate:     changedFloat(cmd, "min-rate", &minRate),
				MaxRate:     changedFloat(cmd, "max-rate", &maxRate),
				ActorID:     viper.GetString("actor-id"),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.WorkspaceID = e.Config.Workspace.ID
				lt, err := e.CreateLoanType(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(lt)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "loan type name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringArrayVar(&stages, "stage", []string{}, "pipeline stage (repeatable)")
	cmd.Flags().Float64Var(&minAmount, "min-amount", 0, "minimum amount")
	cmd.Flags().Float64Var(&maxAmount, "max-amount", 0, "maximum amount")
	cmd.Flags().Float64Var(&minRate, "min-rate", 0, "minimum rate")
	cmd.Flags().Float64Var(&maxRate, "max-rate", 0, "maximum rate")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func loanTypeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loan types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListLoanTypes(ctx, e.Config.Workspace.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Category", "Status"})
				for _, lt := range items {
					tw.AppendRow(table.Row{lt.ID, lt.Name, lt.Category, lt.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func loanTypeShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a loan type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				lt, err := e.Repo.GetLoanType(ctx, e.Config.Workspace.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(lt)
			})
		},
	}
	return cmd
}

func loanTypeUpdateCmd() *cobra.Command {
	var name, description, category, status string
	var stages []string
	var minAmount, maxAmount, minRate, maxRate float64
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a loan type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := repo.LoanTypeUpdate{
				Name:        changedString(cmd, "name", &name),
				Description: changedString(cmd, "description", &description),
				Category:    changedString(cmd, "category", &category),
				Status:      changedString(cmd, "status", &status),
				MinAmount:   changedFloat(cmd, "min-amount", &minAmount),
				MaxAmount:   changedFloat(cmd, "max-amount", &maxAmount),
				MinRate:     changedFloat(cmd, "min-rate", &minRate),
				MaxRate:     changedFloat(cmd, "max-rate", &maxRate),
			}
			if cmd.Flags().Changed("stage") {
				patch.Stages = stages
				patch.StagesSet = true
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				lt, err := e.UpdateLoanType(ctx, engine.UpdateLoanTypeOptions{
					WorkspaceID: e.Config.Workspace.ID,
					LoanTypeID:  args[0],
					Patch:       patch,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(lt)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "loan type name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&status, "status", "", "status (active, inactive)")
	cmd.Flags().StringArrayVar(&stages, "stage", []string{}, "pipeline stage (repeatable, replaces the set)")
	cmd.Flags().Float64Var(&minAmount, "min-amount", 0, "minimum amount")
	cmd.Flags().Float64Var(&maxAmount, "max-amount", 0, "maximum amount")
	cmd.Flags().Float64Var(&minRate, "min-rate", 0, "minimum rate")
	cmd.Flags().Float64Var(&maxRate, "max-rate", 0, "maximum rate")
	return cmd
}

func loanTypeTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates <id>",
		Short: "List templates linked to a loan type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.TemplatesForLoanType(ctx, e.Config.Workspace.ID, args[0])
				if err != nil {
					return err
				}
				return printTemplates(items)
			})
		},
		Args: cobra.ExactArgs(1),
	}
	return cmd
}

func templateCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "template",
		Short: "Manage task templates",
		Long:  "Task templates are reusable checklist steps. Editing a template never touches tasks already cloned from it.",
	}
	t.AddCommand(templateAddCmd())
	t.AddCommand(templateListCmd())
	t.AddCommand(templateShowCmd())
	t.AddCommand(templateUpdateCmd())
	t.AddCommand(templateLinkCmd())
	t.AddCommand(templateUnlinkCmd())
	return t
}

func templateAddCmd() *cobra.Command {
	var title, role, instructions, priority string
	var isRequired, attachments bool
	var dueInDays, displayOrder int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task template",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CreateTaskTemplateOptions{
				Title:              title,
				AssigneeRole:       role,
				Instructions:       instructions,
				IsRequired:         isRequired,
				DueInDays:          changedInt(cmd, "due-in-days", &dueInDays),
				AttachmentsAllowed: attachments,
				Priority:           priority,
				DisplayOrder:       changedInt(cmd, "display-order", &displayOrder),
				ActorID:            viper.GetString("actor-id"),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.WorkspaceID = e.Config.Workspace.ID
				tt, err := e.CreateTaskTemplate(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(tt)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "template title")
	cmd.Flags().StringVar(&role, "role", "", "assignee role (advisor, staff, client)")
	cmd.Flags().StringVar(&instructions, "instructions", "", "instructions")
	cmd.Flags().BoolVar(&isRequired, "required", false, "task must be completed")
	cmd.Flags().IntVar(&dueInDays, "due-in-days", 0, "days until due after assignment")
	cmd.Flags().BoolVar(&attachments, "attachments", false, "allow attachments")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, normal, high, urgent)")
	cmd.Flags().IntVar(&displayOrder, "display-order", 0, "catalog position")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func templateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List task templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListTaskTemplates(ctx, e.Config.Workspace.ID)
				if err != nil {
					return err
				}
				return printTemplates(items)
			})
		},
	}
	return cmd
}

func templateShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tt, err := e.Repo.GetTaskTemplate(ctx, e.Config.Workspace.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(tt)
			})
		},
	}
	return cmd
}

func templateUpdateCmd() *cobra.Command {
	var title, role, instructions, priority string
	var isRequired, attachments bool
	var dueInDays, displayOrder int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := repo.TaskTemplateUpdate{
				Title:              changedString(cmd, "title", &title),
				AssigneeRole:       changedString(cmd, "role", &role),
				Instructions:       changedString(cmd, "instructions", &instructions),
				IsRequired:         changedBool(cmd, "required", &isRequired),
				DueInDays:          changedInt(cmd, "due-in-days", &dueInDays),
				AttachmentsAllowed: changedBool(cmd, "attachments", &attachments),
				Priority:           changedString(cmd, "priority", &priority),
				DisplayOrder:       changedInt(cmd, "display-order", &displayOrder),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tt, err := e.UpdateTaskTemplate(ctx, engine.UpdateTaskTemplateOptions{
					WorkspaceID: e.Config.Workspace.ID,
					TemplateID:  args[0],
					Patch:       patch,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(tt)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "template title")
	cmd.Flags().StringVar(&role, "role", "", "assignee role (advisor, staff, client)")
	cmd.Flags().StringVar(&instructions, "instructions", "", "instructions")
	cmd.Flags().BoolVar(&isRequired, "required", false, "task must be completed")
	cmd.Flags().IntVar(&dueInDays, "due-in-days", 0, "days until due after assignment")
	cmd.Flags().BoolVar(&attachments, "attachments", false, "allow attachments")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, normal, high, urgent)")
	cmd.Flags().IntVar(&displayOrder, "display-order", 0, "catalog position")
	return cmd
}

func templateLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <template-id> <loan-type-id>",
		Short: "Link a template to a loan type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.LinkTemplate(ctx, engine.LinkTemplateOptions{
					WorkspaceID: e.Config.Workspace.ID,
					TemplateID:  args[0],
					LoanTypeID:  args[1],
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func templateUnlinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlink <template-id> <loan-type-id>",
		Short: "Unlink a template from a loan type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.UnlinkTemplate(ctx, engine.UnlinkTemplateOptions{
					WorkspaceID: e.Config.Workspace.ID,
					TemplateID:  args[0],
					LoanTypeID:  args[1],
					ActorID:     viper.GetString("actor-id"),
				})
			})
		},
	}
	return cmd
}

func assignmentCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "assignment",
		Short: "Manage assignments",
		Long:  "Assigning a loan type to a client clones every linked template into the client's own task list in one step. Removing an assignment deletes all its tasks.",
	}
	a.AddCommand(assignmentAddCmd())
	a.AddCommand(assignmentListCmd())
	a.AddCommand(assignmentUpdateCmd())
	a.AddCommand(assignmentRemoveCmd())
	a.AddCommand(assignmentReorderCmd())
	return a
}

func assignmentAddCmd() *cobra.Command {
	var clientID, loanTypeID, customName, notes string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Assign a loan type to a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AssignLoanType(ctx, engine.AssignOptions{
					WorkspaceID: e.Config.Workspace.ID,
					ClientID:    clientID,
					LoanTypeID:  loanTypeID,
					CustomName:  customName,
					Notes:       notes,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client id")
	cmd.Flags().StringVar(&loanTypeID, "loan-type", "", "loan type id")
	cmd.Flags().StringVar(&customName, "name", "", "custom assignment name")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("loan-type")
	return cmd
}

func assignmentListCmd() *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a client's assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAssignmentsByClient(ctx, e.Config.Workspace.ID, clientID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Loan Type", "Name", "Order", "Active", "Assigned"})
				for _, a := range items {
					name := ""
					if a.CustomName != nil {
						name = *a.CustomName
					}
					tw.AppendRow(table.Row{a.ID, a.LoanTypeName, name, a.CustomOrder, a.IsActive, a.AssignedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client id")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func assignmentUpdateCmd() *cobra.Command {
	var customName, notes string
	var order int
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UpdateAssignmentOptions{
				AssignmentID: args[0],
				CustomName:   changedString(cmd, "name", &customName),
				Notes:        changedString(cmd, "notes", &notes),
				CustomOrder:  changedInt(cmd, "order", &order),
				IsActive:     changedBool(cmd, "active", &active),
				ActorID:      viper.GetString("actor-id"),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.WorkspaceID = e.Config.Workspace.ID
				a, err := e.UpdateAssignment(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&customName, "name", "", "custom assignment name")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().IntVar(&order, "order", 0, "position among the client's assignments")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func assignmentRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an assignment and all its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				deleted, err := e.RemoveAssignment(ctx, engine.RemoveAssignmentOptions{
					WorkspaceID:  e.Config.Workspace.ID,
					AssignmentID: args[0],
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"tasks_deleted": deleted})
			})
		},
	}
	return cmd
}

func assignmentReorderCmd() *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "reorder <id>=<order> [<id>=<order> ...]",
		Short: "Reorder a client's assignments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := parseOrders(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ReorderAssignments(ctx, engine.ReorderAssignmentsOptions{
					WorkspaceID: e.Config.Workspace.ID,
					ClientID:    clientID,
					Orders:      orders,
					ActorID:     viper.GetString("actor-id"),
				}); err != nil {
					return err
				}
				items, err := e.Repo.ListAssignmentsByClient(ctx, e.Config.Workspace.ID, clientID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&clientID, "client", "", "client id")
	_ = cmd.MarkFlagRequired("client")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are the per-client checklist steps, cloned from templates or added ad hoc. Statuses: pending, in_progress, ready_for_review, completed, skipped.",
	}
	t.AddCommand(taskAddCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskUpdateCmd())
	t.AddCommand(taskStatusCmd())
	t.AddCommand(taskDoneCmd())
	t.AddCommand(taskNoteCmd())
	t.AddCommand(taskNotesCmd())
	t.AddCommand(taskRemoveCmd())
	t.AddCommand(taskReorderCmd())
	return t
}

func taskAddCmd() *cobra.Command {
	var assignmentID, title, role, instructions, priority string
	var isRequired, attachments bool
	var dueInDays int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an ad-hoc task to an assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CreateTaskOptions{
				AssignmentID:       assignmentID,
				Title:              title,
				AssigneeRole:       role,
				Instructions:       instructions,
				IsRequired:         isRequired,
				DueInDays:          changedInt(cmd, "due-in-days", &dueInDays),
				AttachmentsAllowed: attachments,
				Priority:           priority,
				ActorID:            viper.GetString("actor-id"),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.WorkspaceID = e.Config.Workspace.ID
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&assignmentID, "assignment", "", "assignment id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&role, "role", "", "assignee role (advisor, staff, client)")
	cmd.Flags().StringVar(&instructions, "instructions", "", "instructions")
	cmd.Flags().BoolVar(&isRequired, "required", false, "task must be completed")
	cmd.Flags().IntVar(&dueInDays, "due-in-days", 0, "days until due")
	cmd.Flags().BoolVar(&attachments, "attachments", false, "allow attachments")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, normal, high, urgent)")
	_ = cmd.MarkFlagRequired("assignment")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var assignmentID, clientID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks for an assignment or a client",
		RunE: func(cmd *cobra.Command, args []string) error {
			if assignmentID == "" && clientID == "" {
				return fmt.Errorf("--assignment or --client required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					tasks []domain.Task
					err   error
				)
				if assignmentID != "" {
					tasks, err = e.Repo.ListTasksByAssignment(ctx, e.Config.Workspace.ID, assignmentID)
				} else {
					tasks, err = e.Repo.ListTasksByClient(ctx, e.Config.Workspace.ID, clientID)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				now := time.Now()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Due", "Order", "Overdue"})
				for _, t := range tasks {
					overdue := ""
					if engine.Overdue(t, now) {
						overdue = "yes"
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.DueDate, t.DisplayOrder, overdue})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&assignmentID, "assignment", "", "assignment id")
	cmd.Flags().StringVar(&clientID, "client", "", "client id")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, e.Config.Workspace.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, role, instructions, priority, assigneeID, clientNote string
	var isRequired, attachments bool
	var dueInDays int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.UpdateTaskOptions{
				TaskID:             args[0],
				Title:              changedString(cmd, "title", &title),
				AssigneeRole:       changedString(cmd, "role", &role),
				Instructions:       changedString(cmd, "instructions", &instructions),
				IsRequired:         changedBool(cmd, "required", &isRequired),
				DueInDays:          changedInt(cmd, "due-in-days", &dueInDays),
				AttachmentsAllowed: changedBool(cmd, "attachments", &attachments),
				Priority:           changedString(cmd, "priority", &priority),
				AssigneeID:         changedString(cmd, "assignee-id", &assigneeID),
				ClientNote:         changedString(cmd, "client-note", &clientNote),
				ActorID:            viper.GetString("actor-id"),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.WorkspaceID = e.Config.Workspace.ID
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&role, "role", "", "assignee role (advisor, staff, client)")
	cmd.Flags().StringVar(&instructions, "instructions", "", "instructions")
	cmd.Flags().BoolVar(&isRequired, "required", false, "task must be completed")
	cmd.Flags().IntVar(&dueInDays, "due-in-days", 0, "days until due (recomputes the due date from creation)")
	cmd.Flags().BoolVar(&attachments, "attachments", false, "allow attachments")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low, normal, high, urgent)")
	cmd.Flags().StringVar(&assigneeID, "assignee-id", "", "assignee id")
	cmd.Flags().StringVar(&clientNote, "client-note", "", "client-visible note")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var status, completedAt string
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Change task status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskStatusOptions{
				TaskID:      args[0],
				Status:      status,
				CompletedAt: changedString(cmd, "completed-at", &completedAt),
				ActorID:     viper.GetString("actor-id"),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.WorkspaceID = e.Config.Workspace.ID
				t, err := e.UpdateTaskStatus(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (pending, in_progress, ready_for_review, completed, skipped)")
	cmd.Flags().StringVar(&completedAt, "completed-at", "", "RFC 3339 completion time (completed only)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Complete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskStatus(ctx, engine.TaskStatusOptions{
					WorkspaceID: e.Config.Workspace.ID,
					TaskID:      args[0],
					Status:      domain.StatusCompleted,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskNoteCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "note <id>",
		Short: "Append a note to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.AppendTaskNote(ctx, engine.TaskNoteOptions{
					WorkspaceID: e.Config.Workspace.ID,
					TaskID:      args[0],
					Text:        text,
					AuthorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "note text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func taskNotesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes <id>",
		Short: "List a task's notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				notes, err := e.Repo.ListTaskNotes(ctx, e.Config.Workspace.ID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(notes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Author", "Text"})
				for _, n := range notes {
					tw.AppendRow(table.Row{n.TS, n.AuthorID, n.Text})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, engine.DeleteTaskOptions{
					WorkspaceID: e.Config.Workspace.ID,
					TaskID:      args[0],
					ActorID:     viper.GetString("actor-id"),
				})
			})
		},
	}
	return cmd
}

func taskReorderCmd() *cobra.Command {
	var assignmentID string
	cmd := &cobra.Command{
		Use:   "reorder <id>=<order> [<id>=<order> ...]",
		Short: "Reorder an assignment's tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := parseOrders(args)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ReorderTasks(ctx, engine.ReorderTasksOptions{
					WorkspaceID:  e.Config.Workspace.ID,
					AssignmentID: assignmentID,
					Orders:       orders,
					ActorID:      viper.GetString("actor-id"),
				}); err != nil {
					return err
				}
				tasks, err := e.Repo.ListTasksByAssignment(ctx, e.Config.Workspace.ID, assignmentID)
				if err != nil {
					return err
				}
				return printJSONOrTable(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&assignmentID, "assignment", "", "assignment id")
	_ = cmd.MarkFlagRequired("assignment")
	return cmd
}

func statsCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "stats",
		Short: "Progress rollups",
	}
	s.AddCommand(statsAssignmentCmd())
	s.AddCommand(statsClientCmd())
	return s
}

func statsAssignmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assignment <id>",
		Short: "Show assignment progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.AssignmentStats(ctx, e.Config.Workspace.ID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				fmt.Printf("Assignment %s: %d/%d tasks completed (%d%%)\n",
					stats.AssignmentID, stats.CompletedTasks, stats.TaskCount, stats.ProgressPercentage)
				return nil
			})
		},
	}
	return cmd
}

func statsClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client <id>",
		Short: "Show a client's task rollup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				stats, err := e.ClientTaskStats(ctx, e.Config.Workspace.ID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				fmt.Printf("Client %s: %d tasks\n", stats.ClientID, stats.Total)
				fmt.Printf("  pending: %d  in_progress: %d  ready_for_review: %d  completed: %d  skipped: %d\n",
					stats.Pending, stats.InProgress, stats.ReadyForReview, stats.Completed, stats.Skipped)
				fmt.Printf("  overdue: %d  high: %d  urgent: %d\n", stats.Overdue, stats.HighPriority, stats.Urgent)
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config comes from loandesk.yml in the workspace directory: server address, auth toggles, and task defaults (priority, due-in-days).",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: assignments, clones, status changes, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Workspace.ID, evtType, entityKind, entityID)
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

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyRemoveCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the plaintext is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			plaintext := "ldk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			key := domain.APIKey{
				ID:        uuid.NewString(),
				ActorID:   actor,
				Name:      name,
				KeyHash:   repo.HashAPIKey(plaintext),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plaintext})
				}
				fmt.Printf("API key %s created for %s\n", key.ID, key.ActorID)
				fmt.Printf("Key (store it now, it is not shown again): %s\n", plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apiKeyRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveWorkspaceAndConfig(cmd.Context(), workspace, viper.GetString("workspace-id"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("LOANDESK_JWT_SECRET"),
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
			}
			if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
				fmt.Println("note: LOANDESK_JWT_SECRET is unset; only API keys will authenticate")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Loandesk API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

// --- helpers ---

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
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveWorkspaceAndConfig(ctx, workspace, viper.GetString("workspace-id"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printTemplates(items []domain.TaskTemplate) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Role", "Priority", "Due In", "Order", "Required"})
	for _, tt := range items {
		tw.AppendRow(table.Row{tt.ID, tt.Title, tt.AssigneeRole, tt.Priority, tt.DueInDays, tt.DisplayOrder, tt.IsRequired})
	}
	tw.Render()
	return nil
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

// parseOrders turns "id=3" args into order updates.
func parseOrders(args []string) ([]engine.OrderUpdate, error) {
	orders := make([]engine.OrderUpdate, 0, len(args))
	for _, arg := range args {
		id, pos, ok := strings.Cut(arg, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("expected <id>=<order>, got %q", arg)
		}
		n, err := strconv.Atoi(pos)
		if err != nil {
			return nil, fmt.Errorf("order for %s must be a number: %w", id, err)
		}
		orders = append(orders, engine.OrderUpdate{ID: id, NewOrder: n})
	}
	return orders, nil
}

func changedString(cmd *cobra.Command, flag string, v *string) *string {
	if cmd.Flags().Changed(flag) {
		return v
	}
	return nil
}

func changedBool(cmd *cobra.Command, flag string, v *bool) *bool {
	if cmd.Flags().Changed(flag) {
		return v
	}
	return nil
}

func changedInt(cmd *cobra.Command, flag string, v *int) *int {
	if cmd.Flags().Changed(flag) {
		return v
	}
	return nil
}

func changedFloat(cmd *cobra.Command, flag string, v *float64) *float64 {
	if cmd.Flags().Changed(flag) {
		return v
	}
	return nil
}
