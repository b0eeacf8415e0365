package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"susm/internal/app"
	"susm/internal/config"
	"susm/internal/db"
	"susm/internal/domain"
	"susm/internal/events"
	"susm/internal/export"
	"susm/internal/protocol"
	"susm/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "susm",
	Short: "susm protocol toolkit",
	Long: `susm drives protocol templates and protocol generation against a susm backend.
- Workspace: the .susm directory holding the local database (session, event log, stand-in server data) next to an optional susm.yml.
- Project: a site with an address and a list of objects (flats, rooms, units).
- Template: the named list of fields a protocol records; edit them as YAML with 'susm template create|edit --file'.
- Protocol: a PDF generated from one template for a selection of a project's objects.
- Serve: 'susm serve' runs a local stand-in backend on the workspace database.`,
	SilenceUsage: true,
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
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SUSM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("backend", "", "backend URL (overrides backend.url)")
	rootCmd.PersistentFlags().String("token", "", "bearer token (overrides the saved session)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: json or console")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func registerCommands() {
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(objectCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(protocolCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- session ---

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and remember the session for the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				p, err := prompt("Password: ")
				if err != nil {
					return err
				}
				password = p
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				token, err := env.Client.Login(ctx, email, password)
				if err != nil {
					return err
				}
				if err := env.SaveSession(ctx, email, token); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"ok": true, "email": env.Actor(), "backend": env.Config.Backend.URL})
				}
				fmt.Printf("Logged in to %s as %s\n", env.Config.Backend.URL, env.Actor())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and forget the token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.RequireLogin(); err != nil {
					return err
				}
				if err := env.Client.Logout(ctx); err != nil {
					env.Logger.Warn("server logout failed; forgetting local session anyway", zap.Error(err))
				}
				if err := env.ClearSession(ctx); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"ok": true})
				}
				fmt.Println("Logged out")
				return nil
			})
		},
	}
}

func registerCmd() *cobra.Command {
	var u domain.User
	var street, postal string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account on the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if u.Password == "" {
				p, err := prompt("Password: ")
				if err != nil {
					return err
				}
				u.Password = p
			}
			if street != "" || postal != "" {
				u.Address = &domain.ProjectAddress{Street: street, PostalCode: postal}
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				created, err := env.Client.Register(ctx, u)
				if err != nil {
					return err
				}
				env.Record(ctx, events.UserRegistered, "", "user", created.ID, events.EventPayload{"email": created.Email})
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&u.Name, "name", "", "display name")
	cmd.Flags().StringVar(&u.Email, "email", "", "account email")
	cmd.Flags().StringVar(&u.Password, "password", "", "password (prompted when empty)")
	cmd.Flags().StringVar(&u.Language, "language", "en", "preferred language")
	cmd.Flags().StringVar(&street, "street", "", "street")
	cmd.Flags().StringVar(&postal, "postal-code", "", "postal code")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage susm.yml",
		Long:  "susm.yml sits in the workspace root and names the backend, the download directory, logging and the stand-in server settings. Flags and SUSM_* environment variables override it.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default susm.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				shown := *env.Config
				if shown.Server.JWTSecret != "" {
					shown.Server.JWTSecret = "********"
				}
				if viper.GetBool("json") {
					return printJSON(shown)
				}
				out, err := yaml.Marshal(shown)
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate susm.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// --- events ---

func eventsCmd() *cobra.Command {
	var n int
	var projectID string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the local event log, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := events.List(ctx, env.DB(), projectID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"TS", "Type", "Entity", "Project", "Actor"})
				for _, e := range items {
					entity := e.EntityKind
					if e.EntityID != "" {
						entity += " " + e.EntityID
					}
					tw.AppendRow(table.Row{e.TS, e.Type, entity, e.ProjectID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&projectID, "project", "", "only events of this project")
	return cmd
}

// --- projects and objects ---

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectCreateCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Client.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Address", "Status", "Objects", "Protocols"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, projectAddress(p), p.Status, len(p.Objects), len(p.Protocols)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project with its objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := env.Client.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%s  %s\n", p.Name, projectAddress(p))
				if p.Note != "" {
					fmt.Println(p.Note)
				}
				tw := newTable(table.Row{"ID", "Object", "Postal code", "Status", "Category"})
				for _, o := range p.Objects {
					tw.AppendRow(table.Row{o.ID, protocol.ObjectLabel(o), o.Address.PostalCode, o.Status, o.Category})
				}
				tw.Render()
				fmt.Printf("%d protocol(s); see 'susm protocol history %s'\n", len(p.Protocols), p.ID)
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var p domain.Project
	var street, postal string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(p.Name) == "" {
				return fmt.Errorf("--name required")
			}
			if street != "" || postal != "" {
				p.Address = &domain.ProjectAddress{Street: street, PostalCode: postal}
			}
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				created, err := env.Client.CreateProject(ctx, p)
				if err != nil {
					return err
				}
				env.Record(ctx, events.ProjectCreated, created.ID.String(), "project", created.ID.String(), events.EventPayload{"name": created.Name})
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&p.Name, "name", "", "project name")
	cmd.Flags().StringVar(&street, "street", "", "street")
	cmd.Flags().StringVar(&postal, "postal-code", "", "postal code")
	cmd.Flags().StringVar(&p.Note, "note", "", "note")
	return cmd
}

func objectCmd() *cobra.Command {
	obj := &cobra.Command{Use: "object", Short: "Manage project objects"}
	obj.AddCommand(objectAddCmd())
	return obj
}

func objectAddCmd() *cobra.Command {
	var o domain.Object
	cmd := &cobra.Command{
		Use:   "add <project-id>",
		Short: "Add an object to a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.Address.Street == "" && o.Address.HouseNumber == "" {
				return fmt.Errorf("--street or --house required")
			}
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				created, err := env.Client.AddObject(ctx, args[0], o)
				if err != nil {
					return err
				}
				env.Record(ctx, events.ObjectAdded, args[0], "object", created.ID.String(), events.EventPayload{"label": protocol.ObjectLabel(created)})
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&o.Address.Street, "street", "", "street")
	cmd.Flags().StringVar(&o.Address.HouseNumber, "house", "", "house number")
	cmd.Flags().StringVar(&o.Address.Level, "level", "", "level")
	cmd.Flags().StringVar(&o.Address.DoorNumber, "door", "", "door number")
	cmd.Flags().StringVar(&o.Address.PostalCode, "postal-code", "", "postal code")
	cmd.Flags().StringVar(&o.Note, "note", "", "note")
	cmd.Flags().StringVar(&o.Category, "category", "", "category")
	return cmd
}

// --- templates ---

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{
		Use:   "template",
		Short: "Manage protocol templates",
		Long: heredoc.Doc(`
			Templates are authored as YAML:

			  name: Handover
			  header_template: Handover protocol
			  fields:
			    - label: Meter reading
			      type: number
			      required: true
			    - label: Keys
			      type: custom
			      custom_name: Key count

			Field types: text, number, date, address, status, note, custom.
		`),
		Example: heredoc.Doc(`
			$ susm template list
			$ susm template show 65f0c0ffee0000000000abcd > handover.yml
			$ susm template edit 65f0c0ffee0000000000abcd --file handover.yml --dry-run
			$ susm template edit 65f0c0ffee0000000000abcd --add-field "Keys:custom:key_count:required"
			$ susm template preview --file handover.yml -o preview.pdf
		`),
	}
	tpl.AddCommand(templateListCmd())
	tpl.AddCommand(templateShowCmd())
	tpl.AddCommand(templateCreateCmd())
	tpl.AddCommand(templateEditCmd())
	tpl.AddCommand(templateDeleteCmd())
	tpl.AddCommand(templatePreviewCmd())
	return tpl
}

func templateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Client.ListTemplates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Fields", "Updated"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, len(t.Fields), t.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <template-id>",
		Short: "Print a template as editable YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				t, err := env.Client.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				out, err := yaml.Marshal(protocol.FromTemplate(t))
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	}
}

func templateCreateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a template from a YAML draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			draft, err := readDraft(file)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return submitDraft(ctx, env, protocol.ResumeDraft(draft, env.Logger))
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "template YAML ('-' for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func templateEditCmd() *cobra.Command {
	var file, name, description, header, footer string
	var addFields []string
	var removeFields []int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "edit <template-id>",
		Short: "Edit a template",
		Long:  "Replace a template with a YAML draft (--file) or change it in place. --add-field takes label:type[:custom name][:required].",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				current, err := env.Client.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				session := protocol.EditTemplate(current, env.Logger)
				if file != "" {
					draft, err := readDraft(file)
					if err != nil {
						return err
					}
					draft.ID = current.ID
					session = protocol.ResumeDraft(draft, env.Logger)
				}
				err = session.Edit(func(d *protocol.Draft) {
					if cmd.Flags().Changed("name") {
						d.Name = name
					}
					if cmd.Flags().Changed("description") {
						d.Description = description
					}
					if cmd.Flags().Changed("header") {
						d.HeaderTemplate = header
					}
					if cmd.Flags().Changed("footer") {
						d.FooterTemplate = footer
					}
				})
				if err != nil {
					return err
				}
				if err := removeFieldsAt(session, removeFields); err != nil {
					return err
				}
				for _, def := range addFields {
					label, ft, required, err := parseFieldDef(def)
					if err != nil {
						return err
					}
					idx, err := session.AddField()
					if err != nil {
						return err
					}
					session.Draft().SetField(idx, label, ft, required)
				}
				if dryRun {
					return printChanges(session.Draft(), current)
				}
				return submitDraft(ctx, env, session)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "replace with template YAML ('-' for stdin)")
	cmd.Flags().StringVar(&name, "name", "", "template name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&header, "header", "", "header text")
	cmd.Flags().StringVar(&footer, "footer", "", "footer text")
	cmd.Flags().StringArrayVar(&addFields, "add-field", nil, "append a field label:type[:custom name][:required]")
	cmd.Flags().IntSliceVar(&removeFields, "remove-field", nil, "remove the field at index (0-based)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the changes without saving")
	return cmd
}

func templateDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <template-id>",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Client.DeleteTemplate(ctx, args[0]); err != nil {
					return err
				}
				env.Record(ctx, events.TemplateDeleted, "", "template", args[0], nil)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"ok": true, "id": args[0]})
				}
				fmt.Printf("Deleted template %s\n", args[0])
				return nil
			})
		},
	}
}

func templatePreviewCmd() *cobra.Command {
	var file, out string
	cmd := &cobra.Command{
		Use:   "preview [template-id]",
		Short: "Render a sample PDF for a stored template or a YAML draft",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (len(args) == 0) {
				return fmt.Errorf("give either a template id or --file")
			}
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				var draft *protocol.Draft
				if file != "" {
					d, err := readDraft(file)
					if err != nil {
						return err
					}
					draft = d
				} else {
					t, err := env.Client.GetTemplate(ctx, args[0])
					if err != nil {
						return err
					}
					draft = protocol.FromTemplate(t)
				}
				if err := draft.Validate(); err != nil {
					return err
				}
				pdf, err := env.Client.PreviewTemplate(ctx, draft.Payload())
				if err != nil {
					return err
				}
				if out == "" {
					out = filepath.Join(downloadDir(env), "template_preview.pdf")
				}
				return writeDocument(out, pdf)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "template YAML ('-' for stdin)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	return cmd
}

func submitDraft(ctx context.Context, env *app.Env, session *protocol.EditSession) error {
	saved, err := session.Submit(ctx, env.Client)
	if err != nil {
		var verr protocol.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("template not saved: %w", err)
		}
		return err
	}
	env.Record(ctx, events.TemplateSaved, "", "template", saved.ID.String(), events.EventPayload{"name": saved.Name, "fields": len(saved.Fields)})
	if viper.GetBool("json") {
		return printJSON(saved)
	}
	fmt.Printf("Saved template %s (%s, %d fields)\n", saved.ID, saved.Name, len(saved.Fields))
	return nil
}

func printChanges(d *protocol.Draft, stored domain.ProtocolTemplate) error {
	changes, err := d.Changes(stored)
	if err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(changes)
	}
	if len(changes) == 0 {
		fmt.Println("No changes")
		return nil
	}
	tw := newTable(table.Row{"Change", "Path", "From", "To"})
	for _, c := range changes {
		tw.AppendRow(table.Row{c.Type, strings.Join(c.Path, "."), valueOrEmpty(c.From), valueOrEmpty(c.To)})
	}
	tw.Render()
	return nil
}

func valueOrEmpty(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func readDraft(path string) (*protocol.Draft, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return protocol.ParseDraftYAML(data)
}

// removeFieldsAt removes the fields at the given positions of the draft as it
// was before any removal. Positions are applied highest first and repeats are
// removed once.
func removeFieldsAt(session *protocol.EditSession, positions []int) error {
	order := slices.Clone(positions)
	slices.Sort(order)
	order = slices.Compact(order)
	slices.Reverse(order)
	for _, i := range order {
		ok, err := session.RemoveField(i)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("--remove-field %d: no such field", i)
		}
	}
	return nil
}

// parseFieldDef reads label:type[:custom name][:required].
func parseFieldDef(def string) (string, domain.FieldType, bool, error) {
	parts := strings.Split(def, ":")
	if len(parts) < 2 {
		return "", domain.FieldType{}, false, fmt.Errorf("--add-field %q: want label:type", def)
	}
	kind, ok := domain.ParseFieldKind(parts[1])
	if !ok {
		return "", domain.FieldType{}, false, fmt.Errorf("--add-field %q: unknown field type %q", def, parts[1])
	}
	ft := domain.FieldType{Kind: kind}
	rest := parts[2:]
	required := false
	if n := len(rest); n > 0 && rest[n-1] == "required" {
		required = true
		rest = rest[:n-1]
	}
	if ft.IsCustom() && len(rest) > 0 {
		ft.Name = strings.Join(rest, ":")
	}
	return parts[0], ft, required, nil
}

// --- protocols ---

func protocolCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "protocol",
		Short: "Preview, generate and download protocols",
		Example: heredoc.Doc(`
			$ susm protocol preview --project 65f0aa --template 65f0bb
			$ susm protocol generate --project 65f0aa --template 65f0bb --objects 65f0c1,65f0c2 --data inspector=Ana
			$ susm protocol history 65f0aa --xlsx history.xlsx
		`),
	}
	p.AddCommand(protocolPreviewCmd())
	p.AddCommand(protocolGenerateCmd())
	p.AddCommand(protocolDownloadCmd())
	p.AddCommand(protocolHistoryCmd())
	return p
}

type generationFlags struct {
	projectID  string
	templateID string
	objectIDs  []string
	data       []string
}

func (g *generationFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&g.projectID, "project", "", "project id")
	cmd.Flags().StringVar(&g.templateID, "template", "", "template id")
	cmd.Flags().StringSliceVar(&g.objectIDs, "objects", nil, "object ids (default: every object of the project)")
	cmd.Flags().StringArrayVar(&g.data, "data", nil, "extra field value key=value")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("template")
}

// flow loads the project and prepares a generation flow with the requested
// selection.
func (g *generationFlags) flow(ctx context.Context, env *app.Env) (*protocol.GenerationFlow, error) {
	project, err := env.Client.GetProject(ctx, g.projectID)
	if err != nil {
		return nil, err
	}
	f := protocol.NewGenerationFlow(project.ID.String(), project.Objects, env.Logger)
	f.TemplateID = g.templateID
	if len(g.objectIDs) > 0 {
		known := make(map[string]bool, len(project.Objects))
		for _, o := range project.Objects {
			known[o.ID.String()] = true
		}
		f.Selection.Clear()
		for _, id := range g.objectIDs {
			if !known[id] {
				return nil, fmt.Errorf("object %s is not part of project %s", id, project.ID)
			}
			f.Selection.Toggle(id, true)
		}
	}
	data, err := parseData(g.data)
	if err != nil {
		return nil, err
	}
	f.Data = data
	return f, nil
}

func protocolPreviewCmd() *cobra.Command {
	var g generationFlags
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show what a protocol would contain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				f, err := g.flow(ctx, env)
				if err != nil {
					return err
				}
				preview, err := f.Preview(ctx, env.Client)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(preview)
				}
				fmt.Printf("%s  %s\n", preview.ProjectName, preview.ProjectAddress)
				for _, e := range preview.TableOfContents {
					fmt.Printf("%s%s\n", strings.Repeat("  ", e.Level), e.Title)
				}
				base, folder := env.Config.Backend.URL, env.Config.Backend.FolderBase
				tw := newTable(table.Row{"Object", "Headline", "Images"})
				for _, s := range preview.ContentSections {
					var urls []string
					for _, img := range s.UngroupedImages {
						urls = append(urls, protocol.ImageURL(base, folder, img.Path))
					}
					for _, grp := range s.FileGroups {
						for _, img := range grp.Images {
							urls = append(urls, protocol.ImageURL(base, folder, img.Path))
						}
					}
					tw.AppendRow(table.Row{s.ObjectAddress, s.Headline, strings.Join(urls, "\n")})
				}
				tw.Render()
				return nil
			})
		},
	}
	g.bind(cmd)
	return cmd
}

func protocolGenerateCmd() *cobra.Command {
	var g generationFlags
	var out string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a protocol PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				f, err := g.flow(ctx, env)
				if err != nil {
					return err
				}
				doc, err := f.Generate(ctx, env.Client)
				if err != nil {
					return err
				}
				path := out
				if path == "" {
					path = filepath.Join(downloadDir(env), doc.Name)
				}
				if err := writeDocument(path, doc.Data); err != nil {
					return err
				}
				env.Record(ctx, events.ProtocolGenerated, doc.Request.ProjectID, "protocol", "", events.EventPayload{
					"template_id": doc.Request.TemplateID,
					"object_ids":  doc.Request.ObjectIDs,
					"file":        path,
				})
				return nil
			})
		},
	}
	g.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: download dir/protocol_<ms>.pdf)")
	return cmd
}

func protocolDownloadCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download <project-id> <protocol-id>",
		Short: "Download a previously generated protocol",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				pdf, err := env.Client.DownloadProtocol(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if out == "" {
					out = filepath.Join(downloadDir(env), protocol.DocumentName(time.Now()))
				}
				return writeDocument(out, pdf)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	return cmd
}

func protocolHistoryCmd() *cobra.Command {
	var xlsx string
	cmd := &cobra.Command{
		Use:   "history <project-id>",
		Short: "List generated protocols of a project, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := env.Client.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				if xlsx != "" {
					if err := export.WriteHistory(xlsx, p, time.Local); err != nil {
						return err
					}
					env.Record(ctx, events.ProtocolExported, p.ID.String(), "project", p.ID.String(), events.EventPayload{"file": xlsx, "protocols": len(p.Protocols)})
					fmt.Printf("Wrote %s\n", xlsx)
					return nil
				}
				records := protocol.SortForDisplay(p.Protocols)
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := newTable(table.Row{"Generated at", "Template", "Objects", "Generated by", "ID"})
				for _, r := range records {
					tw.AppendRow(table.Row{protocol.FormatGeneratedAt(r, time.Local), r.TemplateName, protocol.Describe(r), r.GeneratedBy, r.ID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "export the history to this spreadsheet instead")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the stand-in HTTP API on the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withEnv(ctx, func(ctx context.Context, env *app.Env) error {
				secret := viper.GetString("jwt-secret")
				if secret == "" {
					secret = env.Config.Server.JWTSecret
				}
				if secret == "" {
					return fmt.Errorf("SUSM_JWT_SECRET or server.jwt_secret is required for bearer auth")
				}
				if addr == "" {
					addr = env.Config.Server.Addr
				}
				handler, err := server.New(server.Config{
					Repo:     env.Repo,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret, TokenTTL: env.Config.Server.TokenTTL},
					Logger:   env.Logger.Named("server"),
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					env.Logger.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				fmt.Printf("Serving susm API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path")
	return cmd
}

// --- helpers ---

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	env, err := app.Open(ctx, viper.GetString("workspace"), app.Overrides{
		BackendURL: viper.GetString("backend"),
		Token:      viper.GetString("token"),
		LogLevel:   viper.GetString("log-level"),
		LogFormat:  viper.GetString("log-format"),
	})
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

// withSession is withEnv for commands that call authenticated endpoints.
func withSession(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	return withEnv(ctx, func(ctx context.Context, env *app.Env) error {
		if err := env.RequireLogin(); err != nil {
			return err
		}
		return fn(ctx, env)
	})
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
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

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func projectAddress(p domain.Project) string {
	if p.Address == nil {
		return ""
	}
	return strings.TrimSpace(strings.Join([]string{p.Address.Street, p.Address.PostalCode}, " "))
}

func downloadDir(env *app.Env) string {
	if dir := env.Config.Download.Dir; dir != "" {
		return dir
	}
	return "."
}

func writeDocument(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	if viper.GetBool("json") {
		return printJSON(map[string]any{"file": path, "bytes": len(data)})
	}
	fmt.Printf("Wrote %s (%d bytes)\n", path, len(data))
	return nil
}

// parseData turns key=value pairs into the generation data map. Numeric and
// boolean values keep their type.
func parseData(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("--data %q: want key=value", p)
		}
		k = strings.TrimSpace(k)
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = n
		} else if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
		} else {
			out[k] = v
		}
	}
	return out, nil
}

func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
