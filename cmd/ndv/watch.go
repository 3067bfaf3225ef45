package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drunlade/go-ndv/internal/watch"
	"github.com/drunlade/go-ndv/ndv"
)

func newWatchCmd(a *app) *cobra.Command {
	var stow bool
	cmd := &cobra.Command{
		Use:   "watch LIBRARY DIR",
		Short: "Upload source files whenever they are saved",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			library, dir := strings.ToUpper(args[0]), args[1]
			return a.withSession(cmd, func(ctx context.Context, s *ndv.Session) error {
				sf, err := a.systemFile(ctx, s)
				if err != nil {
					return err
				}
				return a.watch(ctx, cmd, s, sf, library, dir, stow)
			})
		},
	}
	cmd.Flags().BoolVar(&stow, "stow", false, "compile and store the objects instead of saving the sources")
	return cmd
}

// watch uploads saved files until ctx is done. The session is only used
// from this goroutine.
func (a *app) watch(ctx context.Context, cmd *cobra.Command, s *ndv.Session, sf *ndv.SystemFile, library, dir string, stow bool) error {
	exts := make([]string, len(ndv.ObjectTypes))
	for i, t := range ndv.ObjectTypes {
		exts[i] = t.Extension
	}
	saved := make(chan string, 16)
	w, err := watch.New(dir, func(path string) {
		select {
		case saved <- path:
		case <-ctx.Done():
		}
	}, watch.WithExtensions(exts...))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headerStyle.Render("Watching "+dir+" for "+library))
	for {
		select {
		case <-ctx.Done():
			return <-done
		case err := <-done:
			return err
		case path := <-saved:
			fmt.Fprint(out, dateStyle.Render(a.now().Format("15:04:05"))+" ")
			if err := upload(ctx, out, s, sf, library, path, "", stow); err != nil {
				fmt.Fprintln(out, errorStyle.Render("✗")+" "+err.Error())
			}
		}
	}
}
