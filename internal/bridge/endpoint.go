package bridge

import (
	"net"
	"strconv"
)

// DefaultCanvasPort is used when an endpoint does not carry an explicit
// canvas port.
const DefaultCanvasPort = 18793

// Endpoint identifies a gateway to dial. Immutable per connection attempt.
type Endpoint struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	LANHost    string `yaml:"lan_host"`
	TailnetDNS string `yaml:"tailnet_dns"`
	CanvasPort int    `yaml:"canvas_port"`
}

// Addr returns the host:port dial address.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Identity describes a node to the gateway, sent once per connection in the
// hello frame.
type Identity struct {
	NodeID          string
	DisplayName     string
	Token           string
	Platform        string
	Version         string
	DeviceFamily    string
	ModelIdentifier string
	Caps            []string
	Commands        []string
}

// HelloFrame builds the hello frame for this identity.
func (id Identity) HelloFrame() *Frame {
	return &Frame{
		Type:            TypeHello,
		NodeID:          id.NodeID,
		DisplayName:     id.DisplayName,
		Token:           id.Token,
		Platform:        id.Platform,
		Version:         id.Version,
		DeviceFamily:    id.DeviceFamily,
		ModelIdentifier: id.ModelIdentifier,
		Caps:            id.Caps,
		Commands:        id.Commands,
	}
}
