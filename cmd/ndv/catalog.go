package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drunlade/go-ndv/ndv"
	"github.com/drunlade/go-ndv/pal"
)

func newLibsCmd(a *app) *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "libs [FILTER]",
		Short: "List libraries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := "*"
			if len(args) == 1 {
				filter = strings.ToUpper(args[0])
			}
			if cached {
				return a.cachedLibraries(cmd, filter)
			}
			return a.withSession(cmd, func(ctx context.Context, s *ndv.Session) error {
				sf, err := a.systemFile(ctx, s)
				if err != nil {
					return err
				}
				libs, err := s.Libraries(sf, filter).All(ctx)
				if err != nil {
					return err
				}
				if filter == "*" {
					a.storeLibraries(ctx, cmd, libs)
				}
				printLibraries(cmd.OutOrStdout(), libs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "list from the local cache without connecting")
	return cmd
}

func (a *app) cachedLibraries(cmd *cobra.Command, filter string) error {
	if err := a.applyProfile(); err != nil {
		return err
	}
	c, err := a.openCache()
	if err != nil {
		return err
	}
	defer c.Close()
	libs, err := c.Libraries(cmd.Context(), a.cacheLocation(), filter)
	if err != nil {
		return err
	}
	printLibraries(cmd.OutOrStdout(), libs)
	return nil
}

func (a *app) storeLibraries(ctx context.Context, cmd *cobra.Command, libs []*ndv.Library) {
	c, err := a.openCache()
	if err == nil {
		defer c.Close()
		err = c.PutLibraries(ctx, a.cacheLocation(), libs)
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("Warning: ")+"cache not updated: "+err.Error())
	}
}

func printLibraries(out io.Writer, libs []*ndv.Library) {
	if len(libs) == 0 {
		fmt.Fprintln(out, headerStyle.Render("No libraries found"))
		return
	}
	fmt.Fprintln(out, headerStyle.Render("Found "+countStyle.Render(strconv.Itoa(len(libs)))+" libraries"))
	names := make([]string, len(libs))
	for i, l := range libs {
		names[i] = l.Name
	}
	for _, line := range columns(names, terminalWidth(out)) {
		fmt.Fprintln(out, line)
	}
}

func newObjectsCmd(a *app) *cobra.Command {
	var (
		kind    string
		natType string
		cached  bool
	)
	cmd := &cobra.Command{
		Use:   "objects LIBRARY [FILTER]",
		Short: "List the objects of a library",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := ndv.ObjectQuery{Library: strings.ToUpper(args[0]), Filter: "*"}
			if len(args) == 2 {
				q.Filter = strings.ToUpper(args[1])
			}
			var err error
			if q.Kind, err = parseKind(kind); err != nil {
				return err
			}
			if q.Type, err = parseType(natType); err != nil {
				return err
			}
			if cached {
				return a.cachedObjects(cmd, q)
			}
			return a.withSession(cmd, func(ctx context.Context, s *ndv.Session) error {
				sf, err := a.systemFile(ctx, s)
				if err != nil {
					return err
				}
				objs, err := s.Objects(sf, q).All(ctx)
				if err != nil {
					return err
				}
				if q.Filter == "*" && q.Kind == ndv.SourceOrGP && q.Type == ndv.TypeAll {
					a.storeObjects(ctx, cmd, q.Library, objs)
				}
				return printObjects(cmd.OutOrStdout(), q.Library, objs)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "all", "source, gp or all")
	cmd.Flags().StringVar(&natType, "type", "", "object type by name or extension, such as Program or NSP")
	cmd.Flags().BoolVar(&cached, "cached", false, "list from the local cache without connecting")
	return cmd
}

func (a *app) cachedObjects(cmd *cobra.Command, q ndv.ObjectQuery) error {
	if err := a.applyProfile(); err != nil {
		return err
	}
	c, err := a.openCache()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := cmd.Context()
	loc := a.cacheLocation()
	at, ok, err := c.FetchedAt(ctx, loc, q.Library)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("library %s is not cached: list it once without --cached", q.Library)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), dateStyle.Render("cached "+at.Format("2006-01-02 15:04")))
	objs, err := c.Objects(ctx, loc, q)
	if err != nil {
		return err
	}
	return printObjects(cmd.OutOrStdout(), q.Library, objs)
}

func (a *app) storeObjects(ctx context.Context, cmd *cobra.Command, library string, objs []*ndv.Object) {
	c, err := a.openCache()
	if err == nil {
		defer c.Close()
		err = c.PutObjects(ctx, a.cacheLocation(), library, objs)
	}
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("Warning: ")+"cache not updated: "+err.Error())
	}
}

func printObjects(out io.Writer, library string, objs []*ndv.Object) error {
	if len(objs) == 0 {
		fmt.Fprintln(out, headerStyle.Render("No objects found in "+library))
		return nil
	}
	fmt.Fprintln(out, headerStyle.Render("Found "+countStyle.Render(strconv.Itoa(len(objs)))+" objects in "+library))
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, strings.Join([]string{
		titleStyle.Render("Name"), titleStyle.Render("Type"), titleStyle.Render("Kind"),
		titleStyle.Render("User"), titleStyle.Render("Size"), titleStyle.Render("Saved"),
	}, "\t"))
	for _, o := range objs {
		typeName := strconv.Itoa(o.NatType)
		if t, ok := ndv.LookupObjectType(o.NatType); ok {
			typeName = t.Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			o.Name, typeName, kindName(o.Kind), o.User, o.SourceSize, dateStyle.Render(formatDate(o.SourceDate)))
	}
	return w.Flush()
}

func parseKind(v string) (int, error) {
	switch strings.ToLower(v) {
	case "source":
		return ndv.Source, nil
	case "gp":
		return ndv.GP, nil
	case "", "all":
		return ndv.SourceOrGP, nil
	}
	return 0, fmt.Errorf("unknown kind %q: use source, gp or all", v)
}

func kindName(k int) string {
	switch k {
	case ndv.Source:
		return "source"
	case ndv.GP:
		return "gp"
	case ndv.SourceOrGP:
		return "source+gp"
	}
	return strconv.Itoa(k)
}

// parseType accepts a type name ("Program") or its file extension ("NSP").
// Empty means every type.
func parseType(v string) (int, error) {
	if v == "" {
		return ndv.TypeAll, nil
	}
	if t, ok := ndv.ObjectTypeByExtension(strings.TrimPrefix(v, ".")); ok {
		return t.ID, nil
	}
	for _, t := range ndv.ObjectTypes {
		if strings.EqualFold(t.Name, v) {
			return t.ID, nil
		}
	}
	return 0, fmt.Errorf("unknown object type %q", v)
}

func formatDate(d pal.Date) string {
	if d.Year == 0 {
		return "-"
	}
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d", d.Year, d.Month, d.Day, d.Hour, d.Minute)
}
