package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bmcdhcp/dhcp"
)

// Metrics counts what the receive loop does with each datagram.
type Metrics struct {
	Received       *prometheus.CounterVec
	Sent           *prometheus.CounterVec
	Dropped        *prometheus.CounterVec
	OptionsDropped *prometheus.CounterVec
}

// NewMetrics creates the server counters and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bmcdhcp_packets_received_total",
			Help: "No of dhcp requests received, by message type",
		}, []string{"type"}),
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bmcdhcp_packets_sent_total",
			Help: "No of dhcp replies sent, by message type",
		}, []string{"type"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bmcdhcp_packets_dropped_total",
			Help: "No of datagrams handled without a reply, by reason",
		}, []string{"reason"}),
		OptionsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bmcdhcp_options_dropped_total",
			Help: "No of reply options left out because they failed to encode",
		}, []string{"option"}),
	}
	if reg != nil {
		reg.MustRegister(m.Received, m.Sent, m.Dropped, m.OptionsDropped)
	}
	return m
}

func (m *Metrics) received(t dhcp.MessageType) {
	if m != nil {
		m.Received.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) sent(t dhcp.MessageType) {
	if m != nil {
		m.Sent.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.Dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) optionDropped(name string) {
	if m != nil {
		m.OptionsDropped.WithLabelValues(name).Inc()
	}
}

// ServeMetrics exposes gatherer on addr under /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
