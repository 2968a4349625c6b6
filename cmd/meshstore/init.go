package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const exampleDiscoveryConfig = `# meshstore discovery service configuration
listen: ":6500"

# Membership push cadence and failure detection.
update_interval: 10s
push_timeout: 1s
evict_after: 3
`

const exampleNodeConfig = `# meshstore storage node configuration

# Host other nodes can reach this one on. Combined with the peer_listen
# port it forms the address registered with the discovery service.
host: 10.0.0.5

peer_listen: ":7450"
api_listen: ":8080"

discovery: 10.0.0.1:6500

dial_timeout: 5s
rejoin_interval: 5s

storage:
  dir: ~/.meshstore/data
  compress: false
`

func runInit(cmd *cobra.Command, args []string) error {
	wrote := false
	for _, f := range []struct {
		name    string
		content string
	}{
		{"discovery.yaml", exampleDiscoveryConfig},
		{"node.yaml", exampleNodeConfig},
	} {
		if _, err := os.Stat(f.name); err == nil {
			fmt.Printf("%s already exists, skipping\n", f.name)
			continue
		}
		if err := os.WriteFile(f.name, []byte(f.content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
		fmt.Printf("wrote %s\n", f.name)
		wrote = true
	}
	if wrote {
		fmt.Println("edit the addresses, then start with: meshstore discovery / meshstore serve")
	}
	return nil
}
