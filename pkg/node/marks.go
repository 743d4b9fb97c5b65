package node

import (
	"github.com/containernetworking/plugins/pkg/ns"
	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"github.com/pkg/errors"

	"Multipath/pkg/policy"
)

const (
	MarkTable = "multipath"
	MarkChain = "output"
)

// MarkAdd appends a meta mark rule for locally generated packets. The
// catch-all marking only touches packets that are still unmarked, so it has
// to be added after the protocol markings.
func (cm *ContainerManager) MarkAdd(name string, m policy.Marking) error {
	path := cm.NetNs(name)
	if path == "" {
		return errors.Errorf("node %s has no network namespace", name)
	}
	netns, err := ns.GetNS(path)
	if err != nil {
		return errors.Wrapf(err, "failed to get namespace of %s", name)
	}
	defer netns.Close()

	conn, err := nftables.New(nftables.WithNetNSFd(int(netns.Fd())))
	if err != nil {
		return errors.Wrap(err, "failed to open nftables connection")
	}

	table := &nftables.Table{Family: nftables.TableFamilyINet, Name: MarkTable}
	chain := &nftables.Chain{
		Name:     MarkChain,
		Table:    table,
		Type:     nftables.ChainTypeRoute,
		Hooknum:  nftables.ChainHookOutput,
		Priority: nftables.ChainPriorityMangle,
	}

	cm.mu.Lock()
	fresh := !cm.marked[name]
	cm.mu.Unlock()
	if fresh {
		conn.AddTable(table)
		conn.AddChain(chain)
	}

	conn.AddRule(&nftables.Rule{
		Table:    table,
		Chain:    chain,
		Exprs:    markExprs(m),
		UserData: []byte(m.Class),
	})
	if err = conn.Flush(); err != nil {
		return errors.Wrapf(err, "failed to add mark %d on %s", m.Mark, name)
	}

	cm.mu.Lock()
	cm.marked[name] = true
	cm.mu.Unlock()
	return nil
}

func markExprs(m policy.Marking) []expr.Any {
	var exprs []expr.Any
	if m.Protocol == policy.Else {
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeyMARK, Register: 1},
			&expr.Cmp{
				Op:       expr.CmpOpEq,
				Register: 1,
				Data:     binaryutil.NativeEndian.PutUint32(0),
			},
		)
	} else {
		exprs = append(exprs,
			&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
			&expr.Cmp{
				Op:       expr.CmpOpEq,
				Register: 1,
				Data:     []byte{m.Protocol.Number()},
			},
		)
	}
	return append(exprs,
		&expr.Immediate{
			Register: 1,
			Data:     binaryutil.NativeEndian.PutUint32(m.Mark),
		},
		&expr.Meta{Key: expr.MetaKeyMARK, SourceRegister: true, Register: 1},
	)
}
