// Package discovery resolves cluster peer addresses through Consul's
// service catalog instead of requiring every dialed address to be supplied
// by hand. It is optional: a Runtime with no Source configured only ever
// dials addresses it was given directly.
package discovery

import (
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
)

// Source resolves a logical node name to a dialable host:port.
type Source interface {
	Resolve(nodeName string) (string, error)
}

// ConsulSource looks nodes up in a Consul service catalog.
type ConsulSource struct {
	client      *consulapi.Client
	serviceName string
}

// NewConsulSource builds a ConsulSource against addr (Consul HTTP API
// address, e.g. "127.0.0.1:8500"); every peer node is expected to register
// itself under serviceName with a tag equal to its node name.
func NewConsulSource(addr, serviceName string) (*ConsulSource, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: consul client: %w", err)
	}
	return &ConsulSource{client: client, serviceName: serviceName}, nil
}

// Resolve queries the healthy service instances tagged with nodeName and
// returns the first match's address:port.
func (c *ConsulSource) Resolve(nodeName string) (string, error) {
	entries, _, err := c.client.Health().ServiceMultipleTags(
		c.serviceName, []string{nodeName}, true, nil)
	if err != nil {
		return "", fmt.Errorf("discovery: consul lookup %s: %w", nodeName, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("discovery: no healthy instance for node %q", nodeName)
	}
	svc := entries[0].Service
	addr := svc.Address
	if addr == "" {
		addr = entries[0].Node.Address
	}
	return fmt.Sprintf("%s:%d", addr, svc.Port), nil
}

// Register advertises this node under serviceName with nodeName as its
// discovery tag, so peers configured with the same ConsulSource can find
// it without a static address list.
func (c *ConsulSource) Register(nodeName, selfAddr string, port int) error {
	reg := &consulapi.AgentServiceRegistration{
		ID:      fmt.Sprintf("%s-%s", c.serviceName, nodeName),
		Name:    c.serviceName,
		Tags:    []string{nodeName},
		Address: selfAddr,
		Port:    port,
		Check: &consulapi.AgentServiceCheck{
			TTL:                            "15s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	return c.client.Agent().ServiceRegister(reg)
}
