package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"bmcdhcp/cache"
	"bmcdhcp/config"
	"bmcdhcp/device"
	"bmcdhcp/dhcp"
	"bmcdhcp/directory"
	"bmcdhcp/options"
)

// Settings tune the receive loop.
type Settings struct {
	// ServerIP is sent as siaddr and server-identifier.
	ServerIP net.IP
	// IfIndex restricts the loop to one interface. 0 accepts every interface.
	IfIndex        int
	ReadBufferSize int
	// LookupTimeout bounds a directory lookup. 0 means no bound.
	LookupTimeout time.Duration
	// CleanInterval is how often expired offers are pruned. 0 disables pruning.
	CleanInterval time.Duration
}

// Params are the collaborators of a Server.
type Params struct {
	Listener  Listener
	Sender    Sender
	Codec     *dhcp.Codec
	Offers    *cache.OfferStore
	Directory directory.Directory
	Metrics   *Metrics
	Settings  Settings
}

// Server answers DISCOVER and REQUEST messages one datagram at a time.
type Server struct {
	listener  Listener
	sender    Sender
	codec     *dhcp.Codec
	offers    *cache.OfferStore
	directory directory.Directory
	metrics   *Metrics
	settings  Settings

	closeOnce sync.Once
	closeErr  error
}

func New(p Params) (*Server, error) {
	if p.Listener == nil || p.Sender == nil || p.Codec == nil || p.Offers == nil || p.Directory == nil {
		return nil, errors.New("listener, sender, codec, offers and directory are required")
	}
	if p.Settings.ServerIP.To4() == nil {
		return nil, fmt.Errorf("server ip %v is not an ipv4 address", p.Settings.ServerIP)
	}
	if p.Settings.ReadBufferSize <= 0 {
		p.Settings.ReadBufferSize = 4096
	}

	// Option definitions are fixed from here on.
	p.Codec.Registry().Freeze()

	return &Server{
		listener:  p.Listener,
		sender:    p.Sender,
		codec:     p.Codec,
		offers:    p.Offers,
		directory: p.Directory,
		metrics:   p.Metrics,
		settings:  p.Settings,
	}, nil
}

// NewServer opens the sockets described by cfg and serves answers from dir.
func NewServer(ctx context.Context, cfg *config.Config, reg *options.Registry, dir directory.Directory, metrics *Metrics) (*Server, error) {
	id, err := device.Resolve(cfg.Server.ListenInterface, cfg.ServerIPOverride())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve server address: %w", err)
	}

	var storeOpts []cache.StoreOption
	if cfg.Offers.TTL > 0 {
		storeOpts = append(storeOpts, cache.WithTTL(cfg.Offers.TTL))
	}
	if cfg.Offers.MaxEntries > 0 {
		storeOpts = append(storeOpts, cache.WithCapacity(cfg.Offers.MaxEntries))
	}
	offers, err := cache.NewOfferStore(storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create offer store: %w", err)
	}

	listener, err := Listen(ctx, cfg.Server.ListenAddr, cfg.Server.Port)
	if err != nil {
		return nil, err
	}

	var sender Sender
	switch cfg.Server.Transport {
	case "pcap":
		sender, err = OpenPcapSender(id.Interface.Name, id.IP, id.MAC, cfg.Server.ClientPort)
		if err != nil {
			listener.Close()
			return nil, err
		}
	default:
		sender = NewUDPSender(listener, cfg.Server.ClientPort)
	}

	settings := Settings{
		ServerIP:       id.IP,
		ReadBufferSize: cfg.Server.ReadBufferSize,
		LookupTimeout:  cfg.Server.LookupTimeout,
	}
	if id.Interface != nil {
		settings.IfIndex = id.Interface.Index
	}
	if cfg.Offers.TTL > 0 {
		settings.CleanInterval = cfg.Offers.CleanInterval
	}

	slog.Info("Resolved server identity", "ip", id.IP.String(), "interface", cfg.Server.ListenInterface, "transport", cfg.Server.Transport)

	return New(Params{
		Listener:  listener,
		Sender:    sender,
		Codec:     dhcp.NewCodec(reg),
		Offers:    offers,
		Directory: dir,
		Metrics:   metrics,
		Settings:  settings,
	})
}

// Offers exposes the offer store, mostly for inspection.
func (s *Server) Offers() *cache.OfferStore {
	return s.offers
}

// Serve runs the receive loop until ctx is done or the server is closed.
// Every datagram is fully handled before the next read.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	if s.settings.CleanInterval > 0 {
		go s.offers.CleanJob(ctx, s.settings.CleanInterval)
	}

	slog.Info("Server is now listening for packets", "serverIP", s.settings.ServerIP.String())

	buffer := make([]byte, s.settings.ReadBufferSize)
	for {
		n, ifIndex, src, err := s.listener.ReadPacket(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				slog.Info("Server stopped")
				return nil
			}
			slog.Error("Error receiving packet", "error", err)
			continue
		}

		if s.settings.IfIndex != 0 && ifIndex != 0 && ifIndex != s.settings.IfIndex {
			slog.Debug("Ignoring packet from another interface", "ifIndex", ifIndex, "src", src)
			s.metrics.dropped("interface")
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])
		s.process(ctx, packetJob{data: data, src: src, ifIndex: ifIndex})
	}
}

// Close releases the socket and the sender. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.listener.Close(), s.sender.Close())
	})
	return s.closeErr
}

// process handles one datagram. Nothing that goes wrong here reaches the loop.
func (s *Server) process(ctx context.Context, job packetJob) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.dropped("panic")
			slog.Error("Recovered from panic while handling packet", "src", job.src, "panic", r)
		}
	}()

	if err := job.Process(ctx, s); err != nil {
		kind := errorKind(err)
		s.metrics.dropped(kind)
		attrs := []any{"src", job.src, "kind", kind, "error", err}
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			attrs = append(attrs, "request", reqErr.req)
		}
		slog.Warn("Dropped packet", attrs...)
	}
}

func errorKind(err error) string {
	var (
		malformed *dhcp.MalformedPacketError
		invalid   *dhcp.InvalidClientError
		encoding  *options.EncodingError
		unknown   *options.UnknownOptionError
	)
	switch {
	case errors.As(err, &malformed):
		return "malformed"
	case errors.As(err, &invalid):
		return "invalid_client"
	case errors.As(err, &encoding):
		return "encoding"
	case errors.As(err, &unknown):
		return "unknown_option"
	case errors.Is(err, errSend):
		return "send"
	}
	return "other"
}
