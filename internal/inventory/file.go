package inventory

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File layout:
//
//	targets:
//	  - 192.168.1.10
//	  - name: ws-accounting
//	    address: 10.0.0.4
//	  - name: ws-frontdesk
//	    addresses: [10.0.0.5, 10.0.1.5]
//	  - name: ws-lab
//	    adapters: ["fe80::1", "10.0.0.7"]
type inventoryFile struct {
	Targets []entry `yaml:"targets"`
}

// entry decodes one heterogeneous list element into a Target.
type entry struct {
	target Target
}

func (e *entry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var addr string
		if err := node.Decode(&addr); err != nil {
			return err
		}
		e.target = SingleAddress{Address: addr}
		return nil

	case yaml.MappingNode:
		var m struct {
			Name      string   `yaml:"name"`
			Address   string   `yaml:"address"`
			Addresses []string `yaml:"addresses"`
			Adapters  []string `yaml:"adapters"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		switch {
		case m.Address != "":
			e.target = SingleAddress{Label: m.Name, Address: m.Address}
		case len(m.Addresses) > 0:
			e.target = AddressList{Label: m.Name, Addresses: m.Addresses}
		case len(m.Adapters) > 0:
			e.target = AdapterList{Label: m.Name, Adapters: m.Adapters}
		default:
			return fmt.Errorf("target %q has no address, addresses, or adapters", m.Name)
		}
		return nil
	}

	return fmt.Errorf("unsupported target entry at line %d", node.Line)
}

// Parse parses YAML inventory data into a target list.
func Parse(data []byte) ([]Target, error) {
	var f inventoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	targets := make([]Target, 0, len(f.Targets))
	for _, e := range f.Targets {
		targets = append(targets, e.target)
	}
	return targets, nil
}

// Load reads and parses an inventory file.
func Load(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return Parse(data)
}
