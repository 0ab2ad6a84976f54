package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func entry(v4, v6 []net.IP, port int, txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry("relay", ServiceType, Domain)
	e.AddrIPv4 = v4
	e.AddrIPv6 = v6
	e.Port = port
	e.Text = txt
	return e
}

func TestRelayURL(t *testing.T) {
	tests := []struct {
		name  string
		entry *zeroconf.ServiceEntry
		want  string
		ok    bool
	}{
		{
			name:  "ipv4 default path",
			entry: entry([]net.IP{net.ParseIP("192.168.1.20")}, nil, 8080),
			want:  "ws://192.168.1.20:8080/ws",
			ok:    true,
		},
		{
			name:  "ipv6 only",
			entry: entry(nil, []net.IP{net.ParseIP("fe80::1")}, 9000),
			want:  "ws://[fe80::1]:9000/ws",
			ok:    true,
		},
		{
			name:  "custom path",
			entry: entry([]net.IP{net.ParseIP("10.0.0.5")}, nil, 80, "path=/chat"),
			want:  "ws://10.0.0.5:80/chat",
			ok:    true,
		},
		{
			name:  "relative path ignored",
			entry: entry([]net.IP{net.ParseIP("10.0.0.5")}, nil, 80, "path=chat"),
			want:  "ws://10.0.0.5:80/ws",
			ok:    true,
		},
		{
			name:  "no address",
			entry: entry(nil, nil, 80),
		},
		{
			name:  "no port",
			entry: entry([]net.IP{net.ParseIP("10.0.0.5")}, nil, 0),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := relayURL(tt.entry)
			if ok != tt.ok || got != tt.want {
				t.Errorf("relayURL = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
