package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drunlade/go-ndv/ndv"
)

func newGetCmd(a *app) *cobra.Command {
	var (
		keepLineNumbers bool
		output          string
	)
	cmd := &cobra.Command{
		Use:   "get LIBRARY OBJECT",
		Short: "Download the source of an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			library, name := strings.ToUpper(args[0]), strings.ToUpper(args[1])
			return a.withSession(cmd, func(ctx context.Context, s *ndv.Session) error {
				sf, err := a.systemFile(ctx, s)
				if err != nil {
					return err
				}
				obj, err := findObject(ctx, s, sf, library, name, ndv.Source)
				if err != nil {
					return err
				}
				fp := &ndv.FileProperties{
					Name:      obj.Name,
					LongName:  obj.LongName,
					Kind:      ndv.Source,
					Type:      obj.NatType,
					DBID:      obj.DBID,
					FNR:       obj.FNR,
					TimeStamp: ndv.EmptyTimeStamp(),
				}
				res, err := s.DownloadSource(ctx, sf, library, fp, ndv.DownloadOptions{KeepLineNumbers: keepLineNumbers})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					out = f
				}
				if err := writeLines(out, res.Lines); err != nil {
					return err
				}
				if output != "" && output != "-" {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s %s.%s: %s lines to %s\n", okStyle.Render("✓"), library, obj.Name,
						countStyle.Render(strconv.Itoa(len(res.Lines))), output)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&keepLineNumbers, "keep-line-numbers", false, "keep the server's line numbers")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the source to this file instead of stdout")
	return cmd
}

func newPutCmd(a *app) *cobra.Command {
	var (
		natType string
		stow    bool
	)
	cmd := &cobra.Command{
		Use:   "put LIBRARY FILE",
		Short: "Upload a source file",
		Long: `Upload a source file. The object is named after the file and its type
follows from the extension (PGM1.NSP is the program PGM1) unless --type is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			library := strings.ToUpper(args[0])
			return a.withSession(cmd, func(ctx context.Context, s *ndv.Session) error {
				sf, err := a.systemFile(ctx, s)
				if err != nil {
					return err
				}
				return upload(ctx, cmd.OutOrStdout(), s, sf, library, args[1], natType, stow)
			})
		},
	}
	cmd.Flags().StringVar(&natType, "type", "", "object type by name or extension")
	cmd.Flags().BoolVar(&stow, "stow", false, "compile and store the object instead of saving the source")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete LIBRARY OBJECT",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			library, name := strings.ToUpper(args[0]), strings.ToUpper(args[1])
			return a.withSession(cmd, func(ctx context.Context, s *ndv.Session) error {
				sf, err := a.systemFile(ctx, s)
				if err != nil {
					return err
				}
				obj, err := findObject(ctx, s, sf, library, name, ndv.SourceOrGP)
				if err != nil {
					return err
				}
				fp := &ndv.FileProperties{Name: obj.Name, Kind: obj.Kind, Type: obj.NatType}
				if err := s.Delete(ctx, sf, library, fp); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("✓")+" deleted "+library+"."+obj.Name)
				return nil
			})
		},
	}
}

// findObject looks name up in a listing of library.
func findObject(ctx context.Context, s *ndv.Session, sf *ndv.SystemFile, library, name string, kind int) (*ndv.Object, error) {
	objs, err := s.Objects(sf, ndv.ObjectQuery{Library: library, Filter: name, Kind: kind, Type: ndv.TypeAll}).All(ctx)
	if err != nil {
		return nil, err
	}
	for _, o := range objs {
		if strings.EqualFold(o.Name, name) {
			return o, nil
		}
	}
	return nil, fmt.Errorf("object %s not found in library %s", name, library)
}

// upload saves, or with stow compiles, the source file at path.
func upload(ctx context.Context, out io.Writer, s *ndv.Session, sf *ndv.SystemFile, library, path, natType string, stow bool) error {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.ToUpper(strings.TrimSuffix(base, ext))
	if natType == "" {
		natType = ext
	}
	typ, err := parseType(natType)
	if err != nil {
		return err
	}
	if typ == ndv.TypeAll {
		return fmt.Errorf("cannot tell the object type of %s: use --type", base)
	}
	lines, err := readLines(path)
	if err != nil {
		return err
	}

	fp := &ndv.FileProperties{Name: name, Kind: ndv.Source, Type: typ, LineIncrement: 10, TimeStamp: ndv.EmptyTimeStamp()}
	verb := "saved"
	if stow {
		verb = "stowed"
		err = s.Stow(ctx, sf, library, fp, lines)
	} else {
		err = s.UploadSource(ctx, sf, library, fp, ndv.UploadOptions{}, lines)
	}
	var ce *ndv.CompileError
	if errors.As(err, &ce) {
		return fmt.Errorf("%s line %d column %d: %w", base, ce.Row, ce.Column, ce.Err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s %s.%s (%s lines)\n", okStyle.Render("✓"), verb, library, name,
		countStyle.Render(strconv.Itoa(len(lines))))
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

func writeLines(w io.Writer, lines []string) error {
	bw := bufio.NewWriter(w)
	for _, l := range lines {
		bw.WriteString(l)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
