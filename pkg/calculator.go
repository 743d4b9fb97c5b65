package pkg

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"Multipath/api"
	"Multipath/pkg/apply"
	"Multipath/pkg/emit"
	"Multipath/pkg/plan"
	"Multipath/pkg/policy"
	"Multipath/pkg/topology"
	"Multipath/pkg/util"
)

type Options struct {
	Pool      netip.Prefix
	BlockBits int
	Workers   int
}

// Calculator ties a declaration file to the planners and, when asked, to the
// host that realizes it.
type Calculator struct {
	host   apply.Host
	logger *zap.Logger
	opts   Options
}

func NewCalculator(host apply.Host, logger *zap.Logger, opts Options) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calculator{host: host, logger: logger, opts: opts}
}

func LoadTopoConfig(path string) (*api.TopoConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading YAML file")
	}
	return ParseTopoConfig(data)
}

func ParseTopoConfig(data []byte) (*api.TopoConfig, error) {
	var cfg api.TopoConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling YAML file")
	}
	return &cfg, nil
}

func index(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}

// BuildTopology turns a declaration into a topology and its traffic classes.
func BuildTopology(cfg *api.TopoConfig) (*topology.Topology, []policy.TrafficClass, error) {
	t := topology.New()
	for _, n := range cfg.Nodes {
		role, err := topology.ParseRole(n.Role)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "node %s", n.Name)
		}
		if _, err = t.AddNode(n.Name, role); err != nil {
			return nil, nil, err
		}
		if n.Forwarding != nil {
			if err = t.SetForwarding(n.Name, *n.Forwarding); err != nil {
				return nil, nil, err
			}
		}
	}

	for _, l := range cfg.Links {
		opts := []topology.LinkOption{topology.WithProperties(l.Properties)}
		if l.SrcIP != "" || l.DstIP != "" {
			var a, b netip.Prefix
			var err error
			if l.SrcIP != "" {
				if a, err = util.ParseInterfacePrefix(l.SrcIP); err != nil {
					return nil, nil, errors.Wrapf(err, "link %s-%s", l.SrcNode, l.DstNode)
				}
			}
			if l.DstIP != "" {
				if b, err = util.ParseInterfacePrefix(l.DstIP); err != nil {
					return nil, nil, errors.Wrapf(err, "link %s-%s", l.SrcNode, l.DstNode)
				}
			}
			opts = append(opts, topology.WithAddresses(a, b))
		}
		if l.Subnet != "" {
			s, err := util.ParseSubnet(l.Subnet)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "link %s-%s", l.SrcNode, l.DstNode)
			}
			opts = append(opts, topology.WithSubnet(s))
		}
		if _, err := t.AddLink(l.SrcNode, index(l.SrcIntf), l.DstNode, index(l.DstIntf), opts...); err != nil {
			return nil, nil, err
		}
	}

	for _, p := range cfg.Paths {
		if _, err := t.DeclarePath(p.Name, p.Nodes...); err != nil {
			return nil, nil, err
		}
	}

	classes := make([]policy.TrafficClass, 0, len(cfg.Classes))
	for _, c := range cfg.Classes {
		proto, err := policy.ParseProtocol(c.Protocol)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "class %s", c.Name)
		}
		classes = append(classes, policy.TrafficClass{Name: c.Name, Protocol: proto, Path: c.Path})
	}
	return t, classes, nil
}

// Plan loads path and runs every planning stage on it.
func (c *Calculator) Plan(path string) (*plan.Plan, error) {
	cfg, err := LoadTopoConfig(path)
	if err != nil {
		return nil, err
	}
	return c.PlanConfig(cfg)
}

func (c *Calculator) PlanConfig(cfg *api.TopoConfig) (*plan.Plan, error) {
	t, classes, err := BuildTopology(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build topology")
	}
	p, err := plan.Build(t, classes, plan.Options{Pool: c.opts.Pool, BlockBits: c.opts.BlockBits})
	if err != nil {
		return nil, err
	}
	for _, f := range p.Findings {
		c.logger.Info("finding", zap.Stringer("severity", f.Severity), zap.String("code", f.Code), zap.String("node", f.Node), zap.String("message", f.Message))
	}
	return p, nil
}

type imageSetter interface {
	SetImage(id, image string)
}

// ApplyTopoConfig plans path, builds the topology on the host and configures
// every node. Command failures are returned as results, not as an error.
func (c *Calculator) ApplyTopoConfig(ctx context.Context, path string) ([]apply.Result, error) {
	if c.host == nil {
		return nil, errors.New("no host to apply to")
	}
	cfg, err := LoadTopoConfig(path)
	if err != nil {
		return nil, err
	}
	p, err := c.PlanConfig(cfg)
	if err != nil {
		return nil, err
	}
	script, err := emit.Emit(p)
	if err != nil {
		return nil, err
	}

	if is, ok := c.host.(imageSetter); ok {
		for _, n := range cfg.Nodes {
			if n.Image != "" {
				is.SetImage(n.Name, n.Image)
			}
		}
	}

	a := apply.New(c.host, apply.WithLogger(c.logger), apply.WithWorkers(c.opts.Workers))
	if err = a.Build(ctx, p.Topology); err != nil {
		return nil, err
	}
	results := a.Configure(ctx, script)
	c.logger.Info("topology applied", zap.String("file", path), zap.String("summary", apply.Summary(results)))
	return results, nil
}

// Interfaces lists every interface of p with its planned address.
func Interfaces(p *plan.Plan) []api.NodeInterface {
	var out []api.NodeInterface
	for _, n := range p.Topology.Nodes() {
		for _, i := range n.Interfaces {
			ni := api.NodeInterface{
				Name:     i.Name(),
				NodeName: n.ID,
				Index:    i.Index,
			}
			if pfx := p.Addressing.Prefix(i); pfx.IsValid() {
				ni.Ipv4 = pfx.String()
			}
			if peer := i.Peer(); peer != nil {
				ni.Peer = peer.Name()
				if peer.Node.Role == topology.Switch {
					ni.BrName = peer.Node.ID
				}
			}
			if n.Role == topology.Switch {
				ni.BrName = n.ID
			}
			out = append(out, ni)
		}
	}
	return out
}

func ShowNodes(w io.Writer, p *plan.Plan) {
	for _, n := range p.Topology.Nodes() {
		fmt.Fprintf(w, "Node: %s, Role: %s, Forwarding: %t\n", n.ID, n.Role, n.Forwarding)
		for _, ni := range Interfaces(p) {
			if ni.NodeName != n.ID {
				continue
			}
			fmt.Fprintf(w, "  Interface: %s, IPv4: %s, Peer: %s\n", ni.Name, ni.Ipv4, ni.Peer)
		}
	}
}

func ShowLinks(w io.Writer, p *plan.Plan) {
	for _, l := range p.Topology.Links() {
		subnet := ""
		if s := p.Addressing.SubnetOf(p.Topology.SegmentOf(l)); s != nil {
			subnet = s.Prefix.String()
		}
		fmt.Fprintf(w, "Link: %s, Subnet: %s, Bw: %dMbps, Delay: %dms, Loss: %.2f\n",
			l, subnet, l.Properties.Rate, l.Properties.Latency, l.Properties.Loss)
	}
}

func ShowPaths(w io.Writer, p *plan.Plan) {
	for _, path := range p.Topology.Paths() {
		fmt.Fprintf(w, "Path: %s\n", path)
		for _, h := range path.Hops() {
			via := ""
			if s := p.Addressing.SubnetOf(h.Segment); s != nil {
				via = s.Prefix.String()
			}
			fmt.Fprintf(w, "  %s -> %s (%s)\n", h.Egress.Name(), h.Ingress.Name(), via)
		}
	}
}

func ShowRoutes(w io.Writer, p *plan.Plan) {
	for _, n := range p.Topology.Nodes() {
		routes := p.Routes.Routes(n.ID)
		if len(routes) == 0 {
			continue
		}
		fmt.Fprintf(w, "Node: %s\n", n.ID)
		for _, e := range routes {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
}

func ShowRules(w io.Writer, p *plan.Plan) {
	for _, np := range p.Policy.Nodes() {
		fmt.Fprintf(w, "Node: %s\n", np.Node)
		for _, m := range np.Marks {
			fmt.Fprintf(w, "  mark %s -> %d (%s)\n", m.Protocol, m.Mark, m.Class)
		}
		for _, r := range np.Rules {
			fmt.Fprintf(w, "  %s\n", r)
		}
		for _, t := range np.Tables {
			for _, e := range t.Routes {
				fmt.Fprintf(w, "  [%d %s] %s\n", t.ID, t.Name, e)
			}
		}
	}
}

func ShowFindings(w io.Writer, p *plan.Plan) {
	for _, f := range p.Findings {
		fmt.Fprintln(w, f)
	}
}
