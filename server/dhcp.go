package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/gopacket/layers"

	"bmcdhcp/cache"
	"bmcdhcp/dhcp"
	"bmcdhcp/directory"
	"bmcdhcp/options"
)

var errSend = errors.New("send failed")

// requestError ties a handling failure to the request that caused it.
type requestError struct {
	req *dhcp.RequestMessage
	err error
}

func (e *requestError) Error() string { return e.err.Error() }

func (e *requestError) Unwrap() error { return e.err }

// HandleDHCPPacket parses one datagram and answers it when a reply is due.
func (s *Server) HandleDHCPPacket(ctx context.Context, data []byte) error {
	req, err := s.codec.Parse(data)
	if err != nil {
		return err
	}
	if err := s.handleRequest(ctx, req); err != nil {
		return &requestError{req: req, err: err}
	}
	return nil
}

func (s *Server) handleRequest(ctx context.Context, req *dhcp.RequestMessage) error {
	msgType, err := dhcp.Classify(req)
	if err != nil {
		return err
	}
	s.metrics.received(msgType)

	switch msgType {
	case dhcp.MessageDiscover:
		slog.Debug("Got Discover", "request", req)
		return s.createOffer(ctx, req)
	case dhcp.MessageRequest:
		slog.Debug("Got Request", "request", req)
		return s.processRequest(ctx, req)
	default:
		slog.Debug("Ignoring message", "request", req)
		s.metrics.dropped("unsupported")
		return nil
	}
}

// createOffer asks the directory for the client's lease and broadcasts an
// OFFER. A directory that declines or fails leaves the client unanswered.
func (s *Server) createOffer(ctx context.Context, req *dhcp.RequestMessage) error {
	clientMAC := req.HardwareAddr

	lookupCtx := ctx
	if s.settings.LookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, s.settings.LookupTimeout)
		defer cancel()
	}

	lease, err := s.directory.Lookup(lookupCtx, clientMAC, s.hints(req))
	switch {
	case errors.Is(err, directory.ErrNoLease):
		slog.Info("No lease for client, staying silent", "mac", clientMAC.String())
		s.metrics.dropped("no_lease")
		return nil
	case err != nil:
		slog.Warn("Directory lookup failed, staying silent", "mac", clientMAC.String(), "error", err)
		s.metrics.dropped("directory")
		return nil
	case lease == nil || lease.OfferedIP.To4() == nil:
		slog.Warn("Directory returned no usable address, staying silent", "mac", clientMAC.String())
		s.metrics.dropped("directory")
		return nil
	}

	offer := dhcp.NewResponse(req, dhcp.MessageOffer, lease.OfferedIP, s.settings.ServerIP)
	s.applyLease(offer, lease)

	payload, err := s.build(offer)
	if err != nil {
		return err
	}

	s.offers.Put(clientMAC, offer)
	slog.Info("Offering ip to client", "ip", lease.OfferedIP.String(), "mac", clientMAC.String(), "xid", fmt.Sprintf("%#08x", req.Xid))
	return s.send(offer, payload)
}

// processRequest answers a REQUEST with the stored offer retyped as an ACK.
// A repeated REQUEST gets the same ACK again.
func (s *Server) processRequest(ctx context.Context, req *dhcp.RequestMessage) error {
	clientMAC := req.HardwareAddr

	if s.offers.State(clientMAC) == cache.NoOffer {
		slog.Warn("Request from client without an offer, dropping", "mac", clientMAC.String(), "xid", fmt.Sprintf("%#08x", req.Xid))
		s.metrics.dropped("no_offer")
		return nil
	}

	ack, ok := s.offers.Acknowledge(clientMAC)
	if !ok {
		slog.Warn("Offer expired before request, dropping", "mac", clientMAC.String())
		s.metrics.dropped("no_offer")
		return nil
	}
	ack.Xid = req.Xid

	payload, err := s.build(ack)
	if err != nil {
		return err
	}

	slog.Info("Acknowledging ip for client", "ip", ack.OfferedIP.String(), "mac", clientMAC.String(), "xid", fmt.Sprintf("%#08x", req.Xid))
	if err := s.send(ack, payload); err != nil {
		return err
	}

	s.recordLease(ctx, ack)
	return nil
}

func (s *Server) recordLease(ctx context.Context, ack *dhcp.ResponseMessage) {
	recorder, ok := s.directory.(directory.Recorder)
	if !ok {
		return
	}
	v, _ := ack.Options.Get(options.LeaseTime)
	leaseTime, _ := v.AsDuration()
	if err := recorder.RecordLease(ctx, ack.HardwareAddr, ack.OfferedIP, leaseTime); err != nil {
		slog.Error("Failed to record lease", "mac", ack.HardwareAddr.String(), "error", err)
	}
}

func (s *Server) hints(req *dhcp.RequestMessage) directory.Hints {
	reg := s.codec.Registry()

	var hints directory.Hints
	if v, ok := req.Value(reg, options.VendorClassIdentifier); ok {
		hints.VendorClass, _ = v.AsString()
	}
	if raw, ok := req.Options.Get(layers.DHCPOptClientID); ok {
		hints.ClientID = append([]byte(nil), raw...)
	}
	if v, ok := req.Value(reg, options.RequestedIP); ok {
		hints.RequestedIP, _ = v.AsIP()
	}
	if v, ok := req.Value(reg, options.Hostname); ok {
		hints.Hostname, _ = v.AsString()
	}
	return hints
}

// applyLease fills resp with the options describing lease.
func (s *Server) applyLease(resp *dhcp.ResponseMessage, lease *directory.Lease) {
	set := resp.Options

	set.Set(options.ServerIdentifier, options.IP(s.settings.ServerIP))
	if lease.LeaseTime > 0 {
		set.Set(options.LeaseTime, options.Duration(lease.LeaseTime))
	}
	if lease.RenewalTime > 0 {
		set.Set(options.RenewalTime, options.Duration(lease.RenewalTime))
	}
	if lease.SubnetMask != nil {
		set.Set(options.SubnetMask, options.IP(lease.SubnetMask))
	}
	if lease.Gateway != nil {
		set.Set(options.Router, options.IPs(lease.Gateway))
	}
	if lease.BroadcastAddr != nil {
		set.Set(options.BroadcastAddress, options.IP(lease.BroadcastAddr))
	}
	if len(lease.DNSServers) > 0 {
		set.Set(options.DomainNameServers, options.IPs(lease.DNSServers...))
	}
	if lease.Hostname != "" {
		set.Set(options.Hostname, options.String(lease.Hostname))
	}
	if lease.DomainName != "" {
		set.Set(options.DomainName, options.String(lease.DomainName))
	}

	names := make([]string, 0, len(lease.ExtraOptions))
	for name := range lease.ExtraOptions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		set.Set(name, lease.ExtraOptions[name])
	}
}

// build serializes resp. An option that fails to encode is logged, removed
// from resp and the build retried without it.
func (s *Server) build(resp *dhcp.ResponseMessage) ([]byte, error) {
	for {
		payload, err := s.codec.Build(resp)
		if err == nil {
			return payload, nil
		}

		var encErr *options.EncodingError
		if !errors.As(err, &encErr) {
			return nil, err
		}
		if _, ok := resp.Options.Get(encErr.Option); !ok {
			return nil, err
		}

		slog.Warn("Leaving out option that failed to encode", "option", encErr.Option, "mac", resp.HardwareAddr.String(), "error", err)
		s.metrics.optionDropped(encErr.Option)
		resp.Options.Delete(encErr.Option)
	}
}

func (s *Server) send(resp *dhcp.ResponseMessage, payload []byte) error {
	if err := s.sender.Send(resp, payload); err != nil {
		return fmt.Errorf("%w: %s to %s: %w", errSend, resp.Type, resp.HardwareAddr, err)
	}
	s.metrics.sent(resp.Type)
	return nil
}
