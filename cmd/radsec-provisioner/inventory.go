package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/EternisAI/radsec-provisioner/internal/provisioning"
	"gopkg.in/yaml.v3"
)

type Inventory struct {
	Devices []provisioning.Target `yaml:"devices"`
}

func parseInventory(data []byte) ([]provisioning.Target, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}

	for i, d := range inv.Devices {
		if strings.TrimSpace(d.Host) == "" {
			return nil, fmt.Errorf("inventory device %d has no host", i+1)
		}
		if d.Port < 0 || d.Port > 65535 {
			return nil, fmt.Errorf("inventory device %s has invalid port %d", d.Host, d.Port)
		}
	}
	return inv.Devices, nil
}

// loadTargets reads the inventory file, if any, and appends hosts given on
// the command line.
func loadTargets(inventoryFile string, hosts []string) ([]provisioning.Target, error) {
	var targets []provisioning.Target
	if inventoryFile != "" {
		data, err := os.ReadFile(inventoryFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read inventory: %w", err)
		}
		targets, err = parseInventory(data)
		if err != nil {
			return nil, err
		}
	}

	for _, h := range hosts {
		if h = strings.TrimSpace(h); h != "" {
			targets = append(targets, provisioning.Target{Host: h})
		}
	}
	return targets, nil
}
