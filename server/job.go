package server

import (
	"context"
	"fmt"
	"net"
)

// packetJob is one received datagram.
type packetJob struct {
	data    []byte
	src     net.Addr
	ifIndex int
}

func (p packetJob) Process(ctx context.Context, s *Server) error {
	if err := s.HandleDHCPPacket(ctx, p.data); err != nil {
		return fmt.Errorf("failure in processing packet data: %w", err)
	}
	return nil
}
