package utils

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterLocalIPs(t *testing.T) {
	ips := []net.IP{
		net.ParseIP("127.0.0.1"),
		net.ParseIP("169.254.10.2"),
		net.ParseIP("192.168.43.7"),
		net.ParseIP("fe80::1"),
	}
	assert.Equal(t, []string{"192.168.43.7"}, filterLocalIPs(ips))

	// Link-local is kept when nothing better exists
	assert.Equal(t, []string{"169.254.10.2"}, filterLocalIPs(ips[:2]))
	assert.Empty(t, filterLocalIPs(nil))
}
