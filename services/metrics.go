package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registrationsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "privacyrelay_registrations_total",
			Help: "Number of data origin registrations received by the proxy",
		},
	)
	updatesRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "privacyrelay_updates_relayed_total",
			Help: "Number of updates republished on a forwarding channel",
		},
	)
	updatesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "privacyrelay_updates_dropped_total",
			Help: "Number of updates dropped, by reason",
		},
		[]string{"reason"},
	)
	activeSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "privacyrelay_active_subscriptions",
			Help: "Number of running observe subscriptions",
		},
	)
	readingsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "privacyrelay_readings_published_total",
			Help: "Number of sensor readings encrypted and published by data origins",
		},
	)
	readingsDecrypted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "privacyrelay_readings_decrypted_total",
			Help: "Number of envelopes decrypted by the SSP",
		},
	)
)

// Drop reasons.
const (
	dropUnknownPeer   = "unknown_peer"
	dropNoChannel     = "no_channel"
	dropUnsupported   = "unsupported_format"
	dropEnvelopeParse = "envelope_parse"
	dropDecryption    = "decryption"
	dropSink          = "sink"
)

func init() {
	prometheus.MustRegister(registrationsReceived)
	prometheus.MustRegister(updatesRelayed)
	prometheus.MustRegister(updatesDropped)
	prometheus.MustRegister(activeSubscriptions)
	prometheus.MustRegister(readingsPublished)
	prometheus.MustRegister(readingsDecrypted)
}
