package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drunlade/go-ndv/ndv"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the properties of the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *ndv.Session) error {
				p := s.ServerProperties()
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, headerStyle.Render("Connected to "+a.server()))
				fmt.Fprintln(out)

				w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
				row := func(k string, v any) { fmt.Fprintf(w, "%s\t%v\n", titleStyle.Render(k), v) }
				row("Platform", p.Platform)
				row("NDV version", p.NdvVersion)
				row("Natural version", p.NaturalVersion)
				row("PAL version", p.PalVersion)
				row("Session", p.SessionID)
				row("Logon library", p.LogonLibrary)
				row("Code page", p.DefaultCodePage)
				row("Unicode sources", p.UnicodeSourcePossible)
				row("Client id", s.ClientID())
				return w.Flush()
			})
		},
	}
}

func newExecCmd(a *app) *cobra.Command {
	var library string
	cmd := &cobra.Command{
		Use:   "exec PROGRAM",
		Short: "Run a program that does no terminal I/O",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *ndv.Session) error {
				if library == "" {
					library = a.library
				}
				if library != "" {
					if err := s.Logon(ctx, library); err != nil {
						return err
					}
				}
				if err := s.ExecuteWithoutIO(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("✓")+" "+args[0]+" finished")
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&library, "library", "l", "", "log on to this library first")
	return cmd
}
