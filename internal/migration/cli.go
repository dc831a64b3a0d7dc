package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// CLI 迁移命令的终端输出层
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI 创建 CLI，默认输出到 stdout
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput 设置输出
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// Run 按动作名分发：up、down、down-all、steps N、goto V、force V、version、status、info
func (c *CLI) Run(ctx context.Context, action string, args []string) error {
	switch action {
	case "", "up":
		return c.RunUp(ctx)
	case "down":
		return c.RunDown(ctx)
	case "down-all":
		return c.RunDownAll(ctx)
	case "steps":
		n, err := intArg(action, args)
		if err != nil {
			return err
		}
		return c.RunSteps(ctx, n)
	case "goto":
		n, err := intArg(action, args)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("goto: version must be non-negative, got %d", n)
		}
		return c.RunGoto(ctx, uint(n))
	case "force":
		n, err := intArg(action, args)
		if err != nil {
			return err
		}
		return c.RunForce(ctx, n)
	case "version":
		return c.RunVersion(ctx)
	case "status":
		return c.RunStatus(ctx)
	case "info":
		return c.RunInfo(ctx)
	default:
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func intArg(action string, args []string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%s: missing argument", action)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%s: invalid argument %q: %w", action, args[0], err)
	}
	return n, nil
}

// RunUp 执行全部待执行迁移
func (c *CLI) RunUp(ctx context.Context) error {
	fmt.Fprintln(c.output, "Applying stream_chunks migrations...")
	if err := c.migrator.Up(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return c.printCurrent(ctx, "Migrations complete.")
}

// RunDown 回滚最近一个迁移
func (c *CLI) RunDown(ctx context.Context) error {
	fmt.Fprintln(c.output, "Rolling back last migration...")
	if err := c.migrator.Down(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return c.printCurrent(ctx, "Rollback complete.")
}

// RunDownAll 回滚全部迁移
func (c *CLI) RunDownAll(ctx context.Context) error {
	fmt.Fprintln(c.output, "Rolling back all migrations...")
	if err := c.migrator.DownAll(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	fmt.Fprintln(c.output, "All migrations rolled back.")
	return nil
}

// RunSteps 前进或回滚 n 步
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	if n >= 0 {
		fmt.Fprintf(c.output, "Applying %d migration(s)...\n", n)
	} else {
		fmt.Fprintf(c.output, "Rolling back %d migration(s)...\n", -n)
	}
	if err := c.migrator.Steps(ctx, n); err != nil {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return c.printCurrent(ctx, "Complete.")
}

// RunGoto 迁移到指定版本
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	fmt.Fprintf(c.output, "Migrating to version %d...\n", version)
	if err := c.migrator.Goto(ctx, version); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return c.printCurrent(ctx, "Migration complete.")
}

// RunForce 强制设置版本
func (c *CLI) RunForce(ctx context.Context, version int) error {
	if err := c.migrator.Force(ctx, version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	fmt.Fprintf(c.output, "Version forced to %d\n", version)
	return nil
}

// RunVersion 打印当前版本
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	if version == 0 {
		fmt.Fprintln(c.output, "No migrations applied yet.")
		return nil
	}
	if dirty {
		fmt.Fprintf(c.output, "Current version: %d (dirty)\n", version)
	} else {
		fmt.Fprintf(c.output, "Current version: %d\n", version)
	}
	return nil
}

// RunStatus 以表格列出迁移状态
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		status := "pending"
		switch {
		case s.Dirty:
			status = "dirty"
		case s.Applied:
			status = "applied"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "\nTotal: %d, Applied: %d, Pending: %d\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	return nil
}

// RunInfo 打印迁移摘要
func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}
	fmt.Fprintln(c.output, "Migration Information:")
	fmt.Fprintf(c.output, "  Current Version:    %d\n", info.CurrentVersion)
	fmt.Fprintf(c.output, "  Dirty:              %v\n", info.Dirty)
	fmt.Fprintf(c.output, "  Total Migrations:   %d\n", info.TotalMigrations)
	fmt.Fprintf(c.output, "  Applied Migrations: %d\n", info.AppliedMigrations)
	fmt.Fprintf(c.output, "  Pending Migrations: %d\n", info.PendingMigrations)
	return nil
}

func (c *CLI) printCurrent(ctx context.Context, prefix string) error {
	version, _, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "%s Current version: %d\n", prefix, version)
	return nil
}
