package plan

import (
	"net/netip"

	"github.com/pkg/errors"

	"Multipath/pkg/address"
	"Multipath/pkg/policy"
	"Multipath/pkg/route"
	"Multipath/pkg/topology"
	"Multipath/pkg/trace"
	"Multipath/pkg/validate"
)

type Options struct {
	Pool      netip.Prefix
	BlockBits int
}

// Plan is the composed output of every planning stage. It is read-only once
// built and consumed by the emitter.
type Plan struct {
	Topology   *topology.Topology
	Addressing *address.Addressing
	Routes     *route.Plan
	Policy     *policy.Plan
	Findings   []validate.Finding
}

// Build runs addressing, routing, policy and validation in that order.
func Build(t *topology.Topology, classes []policy.TrafficClass, opts Options) (*Plan, error) {
	addrs, err := address.NewPlanner(opts.Pool, opts.BlockBits).Allocate(t)
	if err != nil {
		return nil, errors.Wrap(err, "failed to plan addresses")
	}

	routes, err := route.Build(t, addrs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to plan routes")
	}

	pol, err := policy.Build(t, addrs, classes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to plan policy rules")
	}

	return &Plan{
		Topology:   t,
		Addressing: addrs,
		Routes:     routes,
		Policy:     pol,
		Findings:   validate.Validate(t, addrs, routes, pol),
	}, nil
}

// Emittable reports whether no Error finding blocks emission.
func (p *Plan) Emittable() bool {
	return !validate.HasErrors(p.Findings)
}

// Revalidate runs the validator again, e.g. after a caller adjusted options.
func (p *Plan) Revalidate() []validate.Finding {
	return validate.Validate(p.Topology, p.Addressing, p.Routes, p.Policy)
}

// Trace simulates a packet leaving node from.
func (p *Plan) Trace(from string, pkt policy.Packet) (trace.Result, error) {
	return trace.New(p.Topology, p.Addressing, p.Routes, p.Policy).Run(from, pkt)
}
