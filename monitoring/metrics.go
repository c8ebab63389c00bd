// Package monitoring 暴露出價核心的 Prometheus 指標
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	bidsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livebid_bids_accepted_total",
			Help: "Accepted bids by source",
		},
		[]string{"source"},
	)

	bidsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livebid_bids_rejected_total",
			Help: "Rejected bids by reason",
		},
		[]string{"reason"},
	)

	activeAuctions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livebid_active_auctions",
			Help: "Currently tracked active auctions",
		},
	)

	blockedAmount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livebid_wallet_blocked_amount",
			Help: "Sum of funds reserved by leading bids",
		},
	)

	obligationsOutstanding = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livebid_obligations_outstanding",
			Help: "Unsettled payment obligations",
		},
	)
)

// 出價來源標籤
const (
	SourceLocal     = "local"
	SourceRemote    = "remote"
	SourceSynthetic = "synthetic"
)

// ObserveBidAccepted 記錄一筆被接受的出價
func ObserveBidAccepted(source string) {
	bidsAccepted.WithLabelValues(source).Inc()
}

// ObserveBidRejected 記錄一筆被拒絕的出價
func ObserveBidRejected(reason string) {
	bidsRejected.WithLabelValues(reason).Inc()
}

// SetActiveAuctions 更新進行中拍賣數
func SetActiveAuctions(n int) {
	activeAuctions.Set(float64(n))
}

// SetBlockedAmount 更新暫扣總額
func SetBlockedAmount(amount decimal.Decimal) {
	blockedAmount.Set(amount.InexactFloat64())
}

// SetObligationsOutstanding 更新未結清義務數
func SetObligationsOutstanding(n int) {
	obligationsOutstanding.Set(float64(n))
}
