package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/circleci/replay/closer"
	"github.com/circleci/replay/fixture"
	"github.com/circleci/replay/o11y"
	"github.com/circleci/replay/storage"
)

type inspectCmd struct {
	Location string `arg:"" help:"Fixture location: a path, or a file://, s3:// or redis:// URL"`
	Bodies   bool   `help:"Also print the recorded response bodies"`
}

func (c inspectCmd) run(ctx context.Context, w io.Writer) (err error) {
	ctx, span := o11y.StartSpan(ctx, "main: inspect")
	defer o11y.End(span, &err)
	span.AddField("location", c.Location)

	store, err := storage.Open(ctx, c.Location)
	if err != nil {
		return err
	}
	if cl, ok := store.(io.Closer); ok {
		defer closer.ErrorHandler(cl, &err)
	}

	b, err := store.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no fixture at %s", store)
	}
	if err != nil {
		return err
	}
	entries, err := fixture.Decode(b)
	if err != nil {
		return fmt.Errorf("decode %s: %w", store, err)
	}
	span.AddField("entries", len(entries))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "#\tMETHOD\tURL\tSTATUS\tBYTES")
	for i, e := range entries {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%d %s\t%d\n",
			i, e.Request.Method, e.Request.URL,
			e.Response.Status.Code, e.Response.Status.Message, len(e.Response.Body))
		if c.Bodies {
			_, _ = fmt.Fprintf(tw, "\t%s\n", e.Response.Body)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d recordings in %s\n", len(entries), store)
	return err
}
