package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/levelstore/internal/common"
	"github.com/dmitrijs2005/levelstore/internal/filex"
	"github.com/dmitrijs2005/levelstore/internal/server/archive"
	"github.com/spf13/cobra"
)

func newProjectCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Inspect, export, import and revert projects",
	}
	cmd.AddCommand(
		newProjectListCmd(o),
		newProjectExportCmd(o),
		newProjectImportCmd(o),
		newProjectBackupsCmd(o),
		newProjectRevertCmd(o),
	)
	return cmd
}

func projectErr(uid string, err error) error {
	if errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("project %s not found", uid)
	}
	return err
}

func newProjectListCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <email>",
		Short: "List the projects of a user",
		Args:  cobra.ExactArgs(1),
		RunE: o.withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			u, err := lookupUser(ctx, e, args[0])
			if err != nil {
				return err
			}
			list, err := e.projects.ListByOwner(ctx, u.ID)
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tCREATED")
			for _, p := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Title, p.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		}),
	}
}

func newProjectExportCmd(o *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <uid>",
		Short: "Write a project with its scene and backups to an archive",
		Args:  cobra.ExactArgs(1),
		RunE: o.withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			snap, err := e.projects.Export(ctx, args[0])
			if err != nil {
				return projectErr(args[0], err)
			}

			if output == "" || output == "-" {
				return archive.Write(cmd.OutOrStdout(), snap, e.state.Now())
			}

			var buf bytes.Buffer
			if err := archive.Write(&buf, snap, e.state.Now()); err != nil {
				return err
			}
			if err := filex.WriteFileAtomic(output, buf.Bytes(), 0o600); err != nil {
				return fmt.Errorf("write archive: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %s to %s\n", args[0], output)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive file, stdout when empty")
	return cmd
}

func newProjectImportCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <email> <archive>",
		Short: "Create a project for a user from an archive",
		Long:  `Create a project from an archive written by export. Use "-" to read the archive from stdin.`,
		Args:  cobra.ExactArgs(2),
		RunE: o.withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			u, err := lookupUser(ctx, e, args[0])
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return fmt.Errorf("open archive: %w", err)
				}
				defer f.Close()
				r = f
			}

			snap, err := archive.Read(r)
			if err != nil {
				return err
			}
			p, err := e.projects.Import(ctx, u.ID, snap)
			if err != nil {
				return fmt.Errorf("import project: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported project %s (%s)\n", p.ID, p.Title)
			return nil
		}),
	}
}

func newProjectBackupsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backups <uid>",
		Short: "List the backups of a project, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: o.withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			backups, err := e.projects.GetBackups(ctx, args[0])
			if err != nil {
				return projectErr(args[0], err)
			}
			if len(backups) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tTIMESTAMP\tBYTES")
			for i, b := range backups {
				fmt.Fprintf(w, "%d\t%s\t%d\n", i, b.Timestamp.Format(time.RFC3339Nano), len(b.Snapshot))
			}
			return w.Flush()
		}),
	}
}

func newProjectRevertCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revert <uid> <index>",
		Short: "Restore a backup as the current scene",
		Long: `Restore the backup at index (0 is the oldest) as the current scene.
The scene being replaced is kept as the newest backup.`,
		Args: cobra.ExactArgs(2),
		RunE: o.withEnv(func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid backup index %q", args[1])
			}
			if _, err := e.projects.RevertToBackup(ctx, args[0], index); err != nil {
				if errors.Is(err, common.ErrorNotFound) {
					return fmt.Errorf("project %s has no backup %d", args[0], index)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reverted %s to backup %d\n", args[0], index)
			return nil
		}),
	}
}
