package portal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	vaasProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wormhole_portal_vaas_processed_total",
			Help: "Total number of VAAs accepted by the portal, by payload kind",
		}, []string{"kind"})
	callsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wormhole_portal_calls_rejected_total",
			Help: "Total number of portal calls rejected, by error kind",
		}, []string{"kind"})
	transfersScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wormhole_portal_transfers_scheduled_total",
			Help: "Total number of inbound value transfers scheduled, by asset kind",
		}, []string{"asset"})
	messagesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wormhole_portal_messages_emitted_total",
			Help: "Total number of outbound messages handed to the core bridge, by payload",
		}, []string{"payload"})
	storageCharged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wormhole_portal_storage_charged_bytes_total",
			Help: "Total number of storage bytes charged against attached deposits",
		})
)
