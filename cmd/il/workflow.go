package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"inspectline/internal/document"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/repo"
)

func complaintCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "complaint",
		Short: "File complaints",
		Long:  "Files a complaint in one step, as a reporter would through the intake form without uploads.",
	}
	c.AddCommand(complaintFileCmd())
	return c
}

func complaintFileCmd() *cobra.Command {
	var start engine.StartIntakeOptions
	var submit engine.SubmitIntakeOptions
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "file",
		Short: "File a complaint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("lat") {
				start.ReporterLat = &lat
			}
			if cmd.Flags().Changed("lng") {
				start.ReporterLng = &lng
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.SubmitComplaint(ctx, actor, start, submit)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&start.BusinessID, "business-id", "", "directory business id")
	cmd.Flags().StringVar(&start.BusinessName, "business-name", "", "business name (unlisted businesses)")
	cmd.Flags().StringVar(&start.BusinessAddress, "business-address", "", "business address (unlisted businesses)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "reporter latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "reporter longitude")
	cmd.Flags().StringVar(&submit.ReporterEmail, "email", "", "reporter e-mail")
	cmd.Flags().StringVar(&submit.Description, "description", "", "what happened")
	return cmd
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "case",
		Short: "Review complaint cases",
		Long:  "Cases move submitted -> approved or submitted -> declined, once. Declining needs a comment.",
	}
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseDecideCmd(domain.CaseApproved))
	c.AddCommand(caseDecideCmd(domain.CaseDeclined))
	return c
}

func caseListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.CaseFilter{Limit: limit}
			if status != "" {
				s, err := domain.ParseCaseStatus(status)
				if err != nil {
					return err
				}
				f.Status = &s
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.ListCases(ctx, actor, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, c := range items {
					rows = append(rows, table.Row{c.ID, c.BusinessName, c.Status, strings.Join(c.Tags, ", "), c.CreatedAt})
				}
				return printTable(items, table.Row{"ID", "Business", "Status", "Tags", "Filed"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "submitted, approved or declined")
	cmd.Flags().IntVar(&limit, "limit", 50, "max cases")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.GetCase(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func caseDecideCmd(decision domain.CaseStatus) *cobra.Command {
	var comment string
	use := "approve"
	if decision == domain.CaseDeclined {
		use = "decline"
	}
	cmd := &cobra.Command{
		Use:   use + " <case-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a submitted case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				c, err := e.Decide(ctx, args[0], decision, actor, comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "decision comment (required to decline)")
	return cmd
}

func missionOrderCmd() *cobra.Command {
	c := &cobra.Command{
		Use:     "mission-order",
		Aliases: []string{"mo"},
		Short:   "Draft and review mission orders",
		Long:    "Mission orders go draft -> issued -> for inspection; the director may cancel an issued order with a comment. Orders are read-only once they leave issued.",
	}
	c.AddCommand(moStartCmd())
	c.AddCommand(moListCmd())
	c.AddCommand(moShowCmd())
	c.AddCommand(moEditCmd())
	c.AddCommand(moSubmitCmd())
	c.AddCommand(moApproveCmd())
	c.AddCommand(moRejectCmd())
	c.AddCommand(moExportCmd())
	return c
}

func moStartCmd() *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "start <case-id>",
		Short: "Start (or reopen) the mission order for an approved case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				mo, err := e.StartMissionOrder(ctx, args[0], actor, title)
				if err != nil {
					return err
				}
				return printMissionOrder(mo)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "mission order title")
	return cmd
}

func moListCmd() *cobra.Command {
	var f repo.MissionOrderFilter
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mission orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				s, err := domain.ParseMissionOrderStatus(status)
				if err != nil {
					return err
				}
				f.Status = &s
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.ListMissionOrders(ctx, actor, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, mo := range items {
					names := make([]string, 0, len(mo.Inspectors))
					for _, a := range mo.Inspectors {
						names = append(names, a.DisplayName)
					}
					rows = append(rows, table.Row{mo.ID, mo.CaseID, mo.Title, mo.Status, strings.Join(names, ", ")})
				}
				return printTable(items, table.Row{"ID", "Case", "Title", "Status", "Inspectors"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&f.CaseID, "case", "", "case id")
	cmd.Flags().StringVar(&status, "status", "", "draft, issued, \"for inspection\" or cancelled")
	cmd.Flags().StringVar(&f.InspectorID, "inspector", "", "only orders this inspector is assigned to")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max orders")
	return cmd
}

func moShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <mission-order-id>",
		Short: "Show a mission order with its body text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				mo, err := e.GetMissionOrder(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printMissionOrder(mo)
			})
		},
	}
}

func moEditCmd() *cobra.Command {
	var title, editsJSON, editsFile string
	cmd := &cobra.Command{
		Use:   "edit <mission-order-id>",
		Short: "Edit the body or title of a draft or issued order",
		Long: `Edits are a JSON array of {"offset","length","text"} objects, offsets in
characters of the body text as printed by 'il mo show'. Edits that touch a
locked field are refused.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(editsJSON)
			if editsFile != "" {
				data, err := os.ReadFile(editsFile)
				if err != nil {
					return err
				}
				raw = data
			}
			var edits []document.Edit
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &edits); err != nil {
					return fmt.Errorf("invalid edits: %w", err)
				}
			}
			var titlePtr *string
			if cmd.Flags().Changed("title") {
				titlePtr = &title
			}
			if len(edits) == 0 && titlePtr == nil {
				return fmt.Errorf("nothing to change: pass --edits, --edits-file or --title")
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				mo, err := e.UpdateBody(ctx, args[0], actor, edits, titlePtr)
				if err != nil {
					return err
				}
				return printMissionOrder(mo)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&editsJSON, "edits", "", "edits as JSON")
	cmd.Flags().StringVar(&editsFile, "edits-file", "", "file holding edits as JSON")
	return cmd
}

func moTransitionCmd(use, short string, run func(context.Context, engine.Engine, string, domain.Actor) (domain.MissionOrder, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <mission-order-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				mo, err := run(ctx, e, args[0], actor)
				if err != nil {
					return err
				}
				return printMissionOrder(mo)
			})
		},
	}
}

func moSubmitCmd() *cobra.Command {
	return moTransitionCmd("submit", "Issue a staffed draft for director review",
		func(ctx context.Context, e engine.Engine, id string, actor domain.Actor) (domain.MissionOrder, error) {
			return e.Submit(ctx, id, actor)
		})
}

func moApproveCmd() *cobra.Command {
	return moTransitionCmd("approve", "Approve an issued order for inspection",
		func(ctx context.Context, e engine.Engine, id string, actor domain.Actor) (domain.MissionOrder, error) {
			return e.Approve(ctx, id, actor)
		})
}

func moRejectCmd() *cobra.Command {
	var comment string
	cmd := moTransitionCmd("reject", "Cancel an issued order",
		func(ctx context.Context, e engine.Engine, id string, actor domain.Actor) (domain.MissionOrder, error) {
			return e.Reject(ctx, id, actor, comment)
		})
	cmd.Flags().StringVar(&comment, "comment", "", "why the order is cancelled (required)")
	return cmd
}

func moExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <mission-order-id>",
		Short: "Render a mission order as printable HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				html, err := e.RenderMissionOrder(ctx, args[0], actor)
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Print(html)
					return nil
				}
				return os.WriteFile(out, []byte(html), 0o644)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	return cmd
}

func printMissionOrder(mo domain.MissionOrder) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{
			"mission_order": mo,
			"text":          document.Plain(mo.Body),
			"spans":         document.Spans(mo.Body),
		})
	}
	fmt.Printf("%s  %s  [%s]\n", mo.ID, mo.Title, mo.Status)
	if mo.DirectorComment != nil {
		fmt.Printf("director: %s\n", *mo.DirectorComment)
	}
	fmt.Println(strings.Repeat("-", 60))
	fmt.Println(document.Plain(mo.Body))
	return nil
}

func assignmentCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "assignment",
		Short: "Staff mission orders",
		Long:  "Assigning is idempotent. Assignments can change while an order is draft or issued; every change rewrites the order's inspectors field.",
	}
	c.AddCommand(&cobra.Command{
		Use:   "add <mission-order-id> <inspector-id>",
		Short: "Assign an inspector",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				mo, err := e.Assign(ctx, args[0], args[1], actor)
				if err != nil {
					return err
				}
				return printMissionOrder(mo)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "remove <mission-order-id> <inspector-id>",
		Short: "Remove an inspector",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				mo, err := e.Unassign(ctx, args[0], args[1], actor)
				if err != nil {
					return err
				}
				return printMissionOrder(mo)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "list <mission-order-id>",
		Short: "List an order's inspectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.ListAssigned(ctx, args[0], actor)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, a := range items {
					rows = append(rows, table.Row{a.InspectorID, a.DisplayName, a.AssignedBy, a.AssignedAt})
				}
				return printTable(items, table.Row{"Inspector", "Name", "Assigned by", "At"}, rows)
			})
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "mine",
		Short: "Mission orders approved for the current inspector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				items, err := e.InspectorDashboard(ctx, actor.ID, actor)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, mo := range items {
					rows = append(rows, table.Row{mo.ID, mo.CaseID, mo.Title, mo.UpdatedAt})
				}
				return printTable(items, table.Row{"ID", "Case", "Title", "Approved"}, rows)
			})
		},
	})
	return c
}
