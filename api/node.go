package api

// Node declares one emulated node. Role is one of "host", "switch" or "router".
// Forwarding overrides the role default (routers forward, hosts do not), which
// is how a host is turned into a router.
type Node struct {
	Name       string `yaml:"name"`
	Role       string `yaml:"role"`
	Forwarding *bool  `yaml:"forwarding,omitempty"`
	Image      string `yaml:"image,omitempty"`
}

// NodeInterface is the planned view of one attachment point.
type NodeInterface struct {
	Name     string `yaml:"name"`
	NodeName string `yaml:"node"`
	Index    int    `yaml:"index"`
	Ipv4     string `yaml:"ipv4,omitempty"`
	Peer     string `yaml:"peer"`
	BrName   string `yaml:"bridge,omitempty"`
}
