package node

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/grandcat/zeroconf"
)

// MDNSService is the service type nodes advertise on the local network so
// gateways can discover them without configuration.
const MDNSService = "_clawdis-node._tcp"

// AdvertiseMDNS registers the node on the LAN via multicast DNS. The
// advertisement carries the node id and display name as TXT records; the
// port is an ephemeral listener kept open only to satisfy the record. The
// returned stop func shuts both down.
func AdvertiseMDNS(nodeID, displayName, platform string, logger *slog.Logger) (func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, fmt.Errorf("node: mdns listener: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	txt := []string{
		"role=node",
		"nodeId=" + nodeID,
		"displayName=" + displayName,
		"platform=" + platform,
	}
	server, err := zeroconf.Register(displayName, MDNSService, "local.", port, txt, nil)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("node: mdns register: %w", err)
	}
	logger.Info("advertising on mdns", "service", MDNSService, "instance", displayName, "port", port)

	return func() {
		server.Shutdown()
		ln.Close()
	}, nil
}
