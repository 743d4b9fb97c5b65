package api

// TopoConfig is the yaml declaration of a whole exercise: the network shape,
// the paths between endpoints and the traffic classes bound to them.
type TopoConfig struct {
	Nodes   []Node         `yaml:"nodes"`
	Links   []Link         `yaml:"links"`
	Paths   []Path         `yaml:"paths"`
	Classes []TrafficClass `yaml:"classes"`
}

type Path struct {
	Name  string   `yaml:"name"`
	Nodes []string `yaml:"nodes"`
}

// TrafficClass binds a protocol ("tcp", "udp", "icmp" or "else") to a path.
type TrafficClass struct {
	Name     string `yaml:"name"`
	Protocol string `yaml:"protocol"`
	Path     string `yaml:"path"`
}
