// Package generator hands out run identifiers.
package generator

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"sync"

	"github.com/bwmarrin/snowflake"
)

func IDbyIP(ip string) uint32 {
	var id uint32
	binary.Read(bytes.NewBuffer(net.ParseIP(ip).To4()), binary.BigEndian, &id)
	return id
}

// NodeID maps an IPv4 address onto the snowflake node range.
func NodeID(ip string) int64 {
	return int64(IDbyIP(ip) % (1 << snowflake.NodeBits))
}

var (
	once    sync.Once
	node    *snowflake.Node
	nodeErr error
)

func defaultNode() (*snowflake.Node, error) {
	once.Do(func() {
		id := int64(1)
		if ip, err := LocalIP(); err == nil {
			id = NodeID(ip)
		}
		node, nodeErr = snowflake.NewNode(id)
	})
	return node, nodeErr
}

// RunID returns a new snowflake id, unique across hosts with distinct IPs.
func RunID() string {
	n, err := defaultNode()
	if err != nil {
		// node ids are always in range, so this is unreachable in practice
		panic(err)
	}
	return n.Generate().String()
}

// LocalIP returns the first non-loopback IPv4 address.
func LocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if ipNet, isIPNet := addr.(*net.IPNet); isIPNet && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String(), nil
			}
		}
	}

	return "", errors.New("no local ip")
}
