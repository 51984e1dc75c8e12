package p2p

import (
	"context"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/triunity/node/logx"
)

// mdnsNotifee dials peers found on the local network.
type mdnsNotifee struct {
	host host.Host
	ctx  context.Context
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.host.ID() {
		return
	}
	if err := n.host.Connect(n.ctx, pi); err != nil {
		logx.Debug("NETWORK:MDNS", "Failed to connect to", pi.ID.String(), ":", err)
		return
	}
	logx.Info("NETWORK:MDNS", "Discovered peer", pi.ID.String())
}

func startMDNS(ctx context.Context, h host.Host, tag string) (mdns.Service, error) {
	service := mdns.NewMdnsService(h, tag, &mdnsNotifee{host: h, ctx: ctx})
	if err := service.Start(); err != nil {
		return nil, err
	}
	logx.Info("NETWORK:MDNS", "mDNS discovery started with tag", tag)
	return service, nil
}
