package apply

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"Multipath/api"
	"Multipath/pkg/emit"
	"Multipath/pkg/errs"
	"Multipath/pkg/topology"
)

// Output is what a node returned for one shell command.
type Output struct {
	Stdout   string
	ExitCode int
}

// Host is the emulation environment the applier drives.
type Host interface {
	CreateNode(ctx context.Context, id string, role topology.Role) error
	CreateLink(ctx context.Context, a string, ia int, b string, ib int, props api.LinkProperties) error
	SetInterfaceAddress(ctx context.Context, node, iface string, prefix netip.Prefix) error
	EnableForwarding(ctx context.Context, node string) error
	RunCommand(ctx context.Context, node, line string) (Output, error)
}

// NativeHost is implemented by hosts that can program a command without a
// shell. When handled is false the applier falls back to RunCommand.
type NativeHost interface {
	Host
	ApplyNative(ctx context.Context, cmd emit.Command) (handled bool, err error)
}

// Result is the outcome of one command.
type Result struct {
	Command emit.Command
	Output  Output
	Err     error
}

func (r Result) OK() bool { return r.Err == nil }

// DefaultWorkers bounds how many nodes are configured at once.
const DefaultWorkers = 4

type Applier struct {
	host    Host
	logger  *zap.Logger
	workers int
}

type Option func(*Applier)

func WithLogger(l *zap.Logger) Option {
	return func(a *Applier) { a.logger = l }
}

func WithWorkers(n int) Option {
	return func(a *Applier) {
		if n > 0 {
			a.workers = n
		}
	}
}

func New(h Host, opts ...Option) *Applier {
	a := &Applier{host: h, logger: zap.NewNop(), workers: DefaultWorkers}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Build creates every node and then every link of t. The first failure stops
// the build.
func (a *Applier) Build(ctx context.Context, t *topology.Topology) error {
	for _, n := range t.Nodes() {
		if err := a.host.CreateNode(ctx, n.ID, n.Role); err != nil {
			return errors.Wrapf(err, "failed to create node %s", n.ID)
		}
		a.logger.Debug("node created", zap.String("node", n.ID), zap.Stringer("role", n.Role))
	}
	for _, l := range t.Links() {
		if err := a.host.CreateLink(ctx, l.A.Node.ID, l.A.Index, l.B.Node.ID, l.B.Index, l.Properties); err != nil {
			return errors.Wrapf(err, "failed to create link %s", l)
		}
		a.logger.Debug("link created", zap.Stringer("link", l))
	}
	return nil
}

// Configure runs the script. Nodes are configured concurrently, the commands
// of one node strictly in order. A failing command is recorded and the rest
// of the batch still runs. The returned results follow the script order.
func (a *Applier) Configure(ctx context.Context, s *emit.Script) []Result {
	nodes := s.Nodes()
	perNode := make([][]Result, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for idx, node := range nodes {
		idx, node := idx, node
		g.Go(func() error {
			cmds := s.Commands(node)
			out := make([]Result, 0, len(cmds))
			for _, c := range cmds {
				out = append(out, a.run(gctx, c))
			}
			perNode[idx] = out
			return nil
		})
	}
	_ = g.Wait()

	var results []Result
	failed := 0
	for _, rs := range perNode {
		for _, r := range rs {
			if !r.OK() {
				failed++
			}
			results = append(results, r)
		}
	}
	a.logger.Info("configuration applied",
		zap.Int("nodes", len(nodes)),
		zap.Int("commands", len(results)),
		zap.Int("failed", failed))
	return results
}

func (a *Applier) run(ctx context.Context, c emit.Command) Result {
	res := Result{Command: c}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	switch c.Kind {
	case emit.KindAddress:
		res.Err = a.host.SetInterfaceAddress(ctx, c.Node, c.Iface, c.Prefix)
	case emit.KindForwarding:
		res.Err = a.host.EnableForwarding(ctx, c.Node)
	default:
		handled := false
		if nh, ok := a.host.(NativeHost); ok {
			handled, res.Err = nh.ApplyNative(ctx, c)
		}
		if !handled && res.Err == nil {
			res.Output, res.Err = a.host.RunCommand(ctx, c.Node, c.Line)
			if res.Err == nil && res.Output.ExitCode != 0 {
				res.Err = errs.New(errs.ErrCommandFailed, c.Node, "%q exited with %d: %s", c.Line, res.Output.ExitCode, res.Output.Stdout)
			}
		}
	}

	if res.Err != nil {
		a.logger.Warn("command failed", zap.String("node", c.Node), zap.String("command", c.Line), zap.Error(res.Err))
	} else {
		a.logger.Debug("command applied", zap.String("node", c.Node), zap.String("command", c.Line))
	}
	return res
}

// Failed returns the failed results.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Summary renders a one-line count, e.g. "12 commands, 1 failed".
func Summary(results []Result) string {
	return fmt.Sprintf("%d commands, %d failed", len(results), len(Failed(results)))
}
