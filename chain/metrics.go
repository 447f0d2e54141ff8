package chain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mintgate/models"
)

var (
	mintsAdmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mintgate_mints_admitted_total",
		Help: "Mint calls admitted by a node, by node kind",
	}, []string{"kind"})

	mintsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mintgate_mints_rejected_total",
		Help: "Mint calls rejected by a node, by node kind and reason",
	}, []string{"kind", "reason"})

	amountAdmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mintgate_amount_admitted_total",
		Help: "Sum of amounts admitted by a node, by node kind",
	}, []string{"kind"})

	pendingRequestsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mintgate_pending_requests",
		Help: "Delayed mint requests neither executed nor vetoed, by node",
	}, []string{"node"})
)

// observeMint records the outcome of one Mint call on a node of the given kind.
func observeMint(kind models.NodeKind, amount uint64, err error) {
	if err != nil {
		mintsRejectedTotal.WithLabelValues(string(kind), Reason(err)).Inc()
		return
	}
	mintsAdmittedTotal.WithLabelValues(string(kind)).Inc()
	amountAdmittedTotal.WithLabelValues(string(kind)).Add(float64(amount))
}
