package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
)

// CLI 为 nodeflow migrate 子命令输出迁移进度
type CLI struct {
	migrator Migrator
	out      io.Writer
}

func NewCLI(migrator Migrator, out io.Writer) *CLI {
	return &CLI{migrator: migrator, out: out}
}

// apply announces an operation, runs it and reports the resulting version.
func (c *CLI) apply(ctx context.Context, banner string, op func(context.Context) error) error {
	fmt.Fprintln(c.out, banner)
	if err := op(ctx); err != nil {
		return err
	}
	return c.printVersion(ctx)
}

func (c *CLI) RunUp(ctx context.Context) error {
	return c.apply(ctx, "migrating up", c.migrator.Up)
}

// RunDown rolls back one migration, or every migration when all is set.
func (c *CLI) RunDown(ctx context.Context, all bool) error {
	if all {
		return c.apply(ctx, "rolling back every migration", c.migrator.DownAll)
	}
	return c.apply(ctx, "rolling back 1 migration", c.migrator.Down)
}

func (c *CLI) RunSteps(ctx context.Context, n int) error {
	var banner string
	switch {
	case n > 0:
		banner = fmt.Sprintf("migrating up %d step(s)", n)
	case n < 0:
		banner = fmt.Sprintf("rolling back %d migration(s)", -n)
	default:
		return errors.New("steps must not be zero")
	}
	return c.apply(ctx, banner, func(ctx context.Context) error { return c.migrator.Steps(ctx, n) })
}

func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	return c.apply(ctx, fmt.Sprintf("migrating to version %d", version),
		func(ctx context.Context) error { return c.migrator.Goto(ctx, version) })
}

func (c *CLI) RunForce(ctx context.Context, version int) error {
	if err := c.migrator.Force(ctx, version); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "schema version forced to %d\n", version)
	return nil
}

// RunStatus prints one row per embedded migration followed by a summary.
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	applied := 0
	for _, s := range statuses {
		state := "pending"
		if s.Applied {
			applied++
			state = "applied"
		}
		if s.Dirty {
			state = "dirty"
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d migration(s): %d applied, %d pending\n", len(statuses), applied, len(statuses)-applied)
	return nil
}

func (c *CLI) printVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	suffix := ""
	if dirty {
		suffix = " (dirty)"
	}
	fmt.Fprintf(c.out, "schema version %d%s\n", version, suffix)
	return nil
}
