package backend

import (
	"context"
	"net"
	"time"
)

// netDialer applies the adapter's separate connect-timeout budget to the
// underlying TCP dial, independent of the read-timeout budget applied to the
// whole HTTP client.
type netDialer struct {
	timeout time.Duration
}

func (d *netDialer) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: d.timeout}
	return dialer.DialContext(ctx, network, addr)
}
