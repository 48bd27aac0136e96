package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Compass/internal/catalog"
	"github.com/soaringjerry/Compass/internal/models"
	"github.com/soaringjerry/Compass/internal/services"
)

// newRootCommand builds the CLI around a. Callers release a with run or
// a.close once the command returns.
func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "compass",
		Short: "Assessment scoring and progress engine",
		Long: `compass scores employee assessments against pillar/category/question
matrices, tracks each assessment from invitation to completion and rolls
scores up into overview and per-team dashboards.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default ./compass.yaml if present)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides database.path)")

	root.AddCommand(
		newMigrateCommand(a),
		newImportMatrixCommand(a),
		newInviteCommand(a),
		newListCommand(a),
		newDeleteCommand(a),
		newConfirmCommand(a),
		newSubmitCommand(a),
		newNextCommand(a),
		newScoreCommand(a),
		newPotentialCommand(a),
		newRecomputeCommand(a),
		newDashboardCommand(a),
	)
	return root
}

// run executes root and closes whatever setup opened, including when the
// command fails.
func run(ctx context.Context, a *app, root *cobra.Command) error {
	defer a.close()
	return root.ExecuteContext(ctx)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) to %s\n", a.migrated, a.cfg.Database.Path)
			return nil
		},
	}
}

func newImportMatrixCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import-matrix <file>",
		Short: "Load or replace a matrix and its questions from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := catalog.ParseFile(args[0])
			if err != nil {
				return err
			}
			m, err := catalog.Import(cmd.Context(), a.store, def, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported matrix %s (%d questions, %d teams)\n", m.ID, m.QuestionCount(), len(m.TeamIDs))
			return nil
		},
	}
}

func newInviteCommand(a *app) *cobra.Command {
	var team string
	cmd := &cobra.Command{
		Use:   "invite <matrix> <email>",
		Short: "Open an assessment for an employee",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			assessment, err := a.invitations.Invite(cmd.Context(), args[0], team, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), assessment.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&team, "team", "t", "", "team the employee belongs to")
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <matrix>",
		Short: "List assessments opened on a matrix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := a.invitations.ListAssessments(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderAssessments(cmd.OutOrStdout(), list)
			return nil
		},
	}
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <assessment>",
		Short: "Delete an assessment and its answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.invitations.DeleteAssessment(cmd.Context(), args[0])
		},
	}
}

func newConfirmCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <assessment>",
		Short: "Record that the employee accepted the invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := a.assessments.ConfirmAssessment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func newSubmitCommand(a *app) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "submit <assessment> <question> <value>",
		Short: "Submit or replace one answer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.assessments.SubmitAnswer(cmd.Context(), services.SubmitAnswerRequest{
				EmployeeAssessmentID: args[0],
				QuestionID:           args[1],
				Value:                args[2],
				Notes:                notes,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "score %.2f, %d/%d answered, %s\n",
				res.Answer.Score, res.Progress.Answered, res.Progress.Total, res.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "free-text notes stored with the answer")
	return cmd
}

func newNextCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next <assessment>",
		Short: "Show the next unanswered question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, remaining, err := a.assessments.NextQuestion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if q == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "all questions answered")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s (%d remaining)\n", q.ID, q.Type, q.Text, remaining)
			return nil
		},
	}
}

func newScoreCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "score <assessment>",
		Short: "Print an assessment's score tree as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := a.assessments.GetScoreTree(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), tree)
		},
	}
}

func newPotentialCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "potential <matrix>",
		Short: "Print a matrix's potential score tree as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := a.assessments.GetPotentialScoreTree(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), tree)
		},
	}
}

func newRecomputeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <matrix>",
		Short: "Rebuild the overview and team dashboards of a matrix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.analytics.RecomputeDashboard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderDashboardResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func newDashboardCommand(a *app) *cobra.Command {
	var (
		team   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "dashboard <matrix>",
		Short: "Show the last computed dashboard of a matrix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := models.ScopeOverview
			if team != "" {
				scope = models.ScopeTeam
			}
			rec, err := a.analytics.GetDashboard(cmd.Context(), args[0], scope, team)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			renderDashboard(cmd.OutOrStdout(), rec)
			return nil
		},
	}
	cmd.Flags().StringVarP(&team, "team", "t", "", "show a team record instead of the overview")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw record as JSON")
	return cmd
}
