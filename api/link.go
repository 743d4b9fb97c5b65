package api

// Link declares a point-to-point link. SrcIntf/DstIntf pin the interface
// index on each side; nil means the next free index on that node.
type Link struct {
	SrcNode    string         `yaml:"srcNode"`
	DstNode    string         `yaml:"dstNode"`
	SrcIntf    *int           `yaml:"srcIntf,omitempty"`
	DstIntf    *int           `yaml:"dstIntf,omitempty"`
	SrcIP      string         `yaml:"srcIP,omitempty"` // 10.0.1.1/24
	DstIP      string         `yaml:"dstIP,omitempty"`
	Subnet     string         `yaml:"subnet,omitempty"`
	Properties LinkProperties `yaml:"properties"`
}

type LinkProperties struct {
	Latency uint32  `yaml:"latency"` // in ms
	Loss    float32 `yaml:"loss"`    // in percentage
	Rate    uint64  `yaml:"rate"`    // in mbps
}

// Shaped reports whether any qdisc has to be installed for the link.
func (p LinkProperties) Shaped() bool {
	return p.Latency > 0 || p.Loss > 0 || p.Rate > 0
}
