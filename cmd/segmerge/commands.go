package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/hupe1980/segmerge"
	"github.com/hupe1980/segmerge/internal/attribute"
	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "segmerge",
		Usage: "merge segments and manage their patches",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			segmentsCommand(),
			mergeCommand(),
			patchCommand(),
			deleteCommand(),
			inspectCommand(),
		},
	}
}

// withTable opens the table for the duration of fn.
func withTable(fn func(ctx context.Context, cmd *cli.Command, tbl *segmerge.Table) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		tbl, err := openTable(ctx, cmd)
		if err != nil {
			return err
		}
		defer tbl.Close()
		return fn(ctx, cmd, tbl)
	}
}

func segmentFlag() cli.Flag {
	return &cli.Int64Flag{Name: "segment", Aliases: []string{"g"}, Usage: "segment id", Required: true}
}

func parseSegmentIDs(vals []string) ([]segmerge.SegmentID, error) {
	var ids []segmerge.SegmentID
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseUint(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid segment id %q", part)
			}
			ids = append(ids, segmerge.SegmentID(id))
		}
	}
	return ids, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func segmentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "segments",
		Usage: "list the segments of the table",
		Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "print JSON"}},
		Action: withTable(func(_ context.Context, cmd *cli.Command, tbl *segmerge.Table) error {
			ids, err := tbl.Segments()
			if err != nil {
				return err
			}
			infos := make([]segmerge.SegmentInfo, 0, len(ids))
			for _, id := range ids {
				info, err := tbl.SegmentInfo(id)
				if err != nil {
					return err
				}
				infos = append(infos, info)
			}
			if cmd.Bool("json") {
				return writeJSON(cmd.Root().Writer, infos)
			}
			tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDOCS\tDELETED\tVERSION\tMERGED FROM")
			for _, info := range infos {
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%v\n", info.ID, info.DocCount, info.DeletedCount, info.Version, info.MergedFrom)
			}
			return tw.Flush()
		}),
	}
}

func mergeCommand() *cli.Command {
	return &cli.Command{
		Name:  "merge",
		Usage: "merge segments into a new segment",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "plan", Aliases: []string{"p"}, Usage: "YAML merge plan"},
			&cli.StringSliceFlag{Name: "segments", Usage: "input segment ids in merge order"},
			&cli.Int64Flag{Name: "target", Aliases: []string{"t"}, Usage: "output segment id"},
			&cli.BoolFlag{Name: "unsorted", Usage: "keep input order even if the schema has a sort key"},
			&cli.BoolFlag{Name: "json", Usage: "print the result as JSON"},
		},
		Action: withTable(func(ctx context.Context, cmd *cli.Command, tbl *segmerge.Table) error {
			var plan segmerge.Plan
			if path := cmd.String("plan"); path != "" {
				p, err := segmerge.LoadPlanFile(path)
				if err != nil {
					return err
				}
				plan = p
			} else {
				ids, err := parseSegmentIDs(cmd.StringSlice("segments"))
				if err != nil {
					return err
				}
				plan = segmerge.Plan{Segments: ids, Target: segmerge.SegmentID(cmd.Int64("target"))}
			}
			if cmd.Bool("unsorted") {
				plan.Unsorted = true
			}

			res, err := tbl.Merge(ctx, plan)
			if err != nil {
				return err
			}
			w := cmd.Root().Writer
			if cmd.Bool("json") {
				return writeJSON(w, res)
			}
			fmt.Fprintf(w, "merged %v into segment %d\n", plan.Segments, res.Info.ID)
			fmt.Fprintf(w, "  docs: %d (reclaimed %d)\n", res.Info.DocCount, res.Deleted)
			fmt.Fprintf(w, "  patches applied: %d\n", res.Patches)
			fmt.Fprintf(w, "  primary keys: %d (duplicates %d)\n", res.Keys, res.DuplicateKeys)
			fmt.Fprintf(w, "  version: %d\n", res.Info.Version)
			fmt.Fprintf(w, "  duration: %s\n", res.Duration)
			return nil
		}),
	}
}

// parseUpdates parses "doc:field=value" arguments. Values use the text form
// of the field type.
func parseUpdates(s *segmerge.Schema, args []string) ([]segmerge.FieldUpdate, error) {
	updates := make([]segmerge.FieldUpdate, 0, len(args))
	for _, arg := range args {
		target, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid update %q, want doc:field=value", arg)
		}
		docStr, fieldStr, ok := strings.Cut(target, ":")
		if !ok {
			return nil, fmt.Errorf("invalid update %q, want doc:field=value", arg)
		}
		doc, err := strconv.ParseUint(docStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid doc in %q: %w", arg, err)
		}
		field, err := strconv.ParseUint(fieldStr, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid field in %q: %w", arg, err)
		}
		fld, ok := s.Field(segmerge.FieldID(field))
		if !ok {
			return nil, fmt.Errorf("unknown field %d", field)
		}
		v, err := attribute.Parse(fld.Type, value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value in %q: %w", fld.Type, arg, err)
		}
		updates = append(updates, segmerge.FieldUpdate{
			Doc:   segmerge.LocalDocID(doc),
			Field: segmerge.FieldID(field),
			Value: v,
		})
	}
	return updates, nil
}

func patchCommand() *cli.Command {
	return &cli.Command{
		Name:      "patch",
		Usage:     "write a patch generation for a segment",
		ArgsUsage: "doc:field=value...",
		Flags: []cli.Flag{
			segmentFlag(),
			&cli.Int64Flag{Name: "version", Aliases: []string{"v"}, Usage: "patch version", Required: true},
		},
		Action: withTable(func(ctx context.Context, cmd *cli.Command, tbl *segmerge.Table) error {
			updates, err := parseUpdates(tbl.Schema(), cmd.Args().Slice())
			if err != nil {
				return err
			}
			if len(updates) == 0 {
				return fmt.Errorf("no updates given")
			}
			n, err := tbl.WritePatch(ctx, segmerge.SegmentID(cmd.Int64("segment")), segmerge.Version(cmd.Int64("version")), updates)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "wrote %d patch records\n", n)
			return nil
		}),
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "mark documents of a segment as deleted",
		ArgsUsage: "doc...",
		Flags:     []cli.Flag{segmentFlag()},
		Action: withTable(func(ctx context.Context, cmd *cli.Command, tbl *segmerge.Table) error {
			var docs []segmerge.LocalDocID
			for _, arg := range cmd.Args().Slice() {
				d, err := strconv.ParseUint(arg, 10, 32)
				if err != nil {
					return fmt.Errorf("invalid doc %q", arg)
				}
				docs = append(docs, segmerge.LocalDocID(d))
			}
			if len(docs) == 0 {
				return fmt.Errorf("no documents given")
			}
			if err := tbl.Delete(ctx, segmerge.SegmentID(cmd.Int64("segment")), docs...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "deleted %d documents\n", len(docs))
			return nil
		}),
	}
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "show the contents of segment files",
		Commands: []*cli.Command{
			{
				Name:  "values",
				Usage: "print the current values of a field, patches applied",
				Flags: []cli.Flag{
					segmentFlag(),
					&cli.Int64Flag{Name: "field", Aliases: []string{"f"}, Usage: "field id", Required: true},
				},
				Action: withTable(inspectValues),
			},
			{
				Name:  "pk",
				Usage: "look up a primary key",
				Flags: []cli.Flag{
					segmentFlag(),
					&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "key in the text form of the key field", Required: true},
				},
				Action: withTable(inspectPK),
			},
			{
				Name:  "patch",
				Usage: "print the pending patch entries of a column",
				Flags: []cli.Flag{
					segmentFlag(),
					&cli.Int64Flag{Name: "field", Aliases: []string{"f"}, Usage: "field or pack group member id", Required: true},
				},
				Action: withTable(inspectPatch),
			},
			{
				Name:   "reclaim",
				Usage:  "print the reclaim map of a merged segment",
				Flags:  []cli.Flag{segmentFlag()},
				Action: withTable(inspectReclaim),
			},
		},
	}
}

func inspectValues(_ context.Context, cmd *cli.Command, tbl *segmerge.Table) error {
	field := segmerge.FieldID(cmd.Int64("field"))
	fld, ok := tbl.Schema().Field(field)
	if !ok {
		return fmt.Errorf("unknown field %d", field)
	}
	vals, err := tbl.Values(segmerge.SegmentID(cmd.Int64("segment")), field)
	if err != nil {
		return err
	}
	w := cmd.Root().Writer
	for i, v := range vals {
		fmt.Fprintf(w, "%d\t%s\n", i, attribute.Format(fld.Type, v))
	}
	return nil
}

func inspectPatch(_ context.Context, cmd *cli.Command, tbl *segmerge.Table) error {
	updates, err := tbl.Patches(segmerge.SegmentID(cmd.Int64("segment")), segmerge.FieldID(cmd.Int64("field")))
	if err != nil {
		return err
	}
	w := cmd.Root().Writer
	for _, u := range updates {
		fld, _ := tbl.Schema().Field(u.Field)
		fmt.Fprintf(w, "%d\t%d\t%s\n", u.Doc, u.Field, attribute.Format(fld.Type, u.Value))
	}
	return nil
}

func inspectPK(_ context.Context, cmd *cli.Command, tbl *segmerge.Table) error {
	s := tbl.Schema()
	if s.PrimaryKey == nil {
		return fmt.Errorf("schema has no primary key")
	}
	fld, _ := s.Field(s.PrimaryKey.Field)
	key, err := attribute.Parse(fld.Type, cmd.String("key"))
	if err != nil {
		return err
	}
	doc, ok, err := tbl.Lookup(segmerge.SegmentID(cmd.Int64("segment")), key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.Root().Writer, "not found")
		return nil
	}
	fmt.Fprintf(cmd.Root().Writer, "doc %d\n", doc)
	return nil
}

func inspectReclaim(_ context.Context, cmd *cli.Command, tbl *segmerge.Table) error {
	m, err := tbl.ReclaimMap(segmerge.SegmentID(cmd.Int64("segment")))
	if err != nil {
		return err
	}
	w := cmd.Root().Writer
	fmt.Fprintf(w, "docs: %d total, %d live, %d reclaimed, sorted %t\n", m.TotalDocs(), m.LiveDocs(), m.DeletedDocs(), m.Sorted())
	segs := m.Segments()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NEW\tSEGMENT\tOLD")
	for id := segmerge.DocID(0); id < segmerge.DocID(m.LiveDocs()); id++ {
		ref, ok := m.Old(id)
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\n", id, segs[ref.Segment].ID, ref.Local)
	}
	return tw.Flush()
}
