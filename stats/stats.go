// Package stats counts engine traffic: frames and bytes per direction,
// point-to-point matches, and collective activity. Counters are prometheus
// natives registered on a per-engine registry so that multiple engines can
// coexist in one test process.
/*
 * Copyright (c) 2024-2026, gompi authors. All rights reserved.
 */
package stats

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type Tracker struct {
	reg *prometheus.Registry

	framesTx *prometheus.CounterVec // by peer
	framesRx *prometheus.CounterVec // by peer
	bytesTx  prometheus.Counter
	bytesRx  prometheus.Counter

	matched    prometheus.Counter // frames delivered straight to a posted receive
	unexpected prometheus.Counter // frames parked in the inbox
	overtaken  prometheus.Counter // collective requests replaced in flight
}

func New(job string, rank int) *Tracker {
	labels := prometheus.Labels{"job": job, "rank": strconv.Itoa(rank)}
	t := &Tracker{
		reg: prometheus.NewRegistry(),
		framesTx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gompi_frames_tx_total", Help: "frames sent", ConstLabels: labels,
		}, []string{"peer"}),
		framesRx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gompi_frames_rx_total", Help: "frames received", ConstLabels: labels,
		}, []string{"peer"}),
		bytesTx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gompi_bytes_tx_total", Help: "payload bytes sent", ConstLabels: labels,
		}),
		bytesRx: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gompi_bytes_rx_total", Help: "payload bytes received", ConstLabels: labels,
		}),
		matched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gompi_p2p_matched_total", Help: "frames matched to posted receives", ConstLabels: labels,
		}),
		unexpected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gompi_p2p_unexpected_total", Help: "frames buffered in the inbox", ConstLabels: labels,
		}),
		overtaken: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gompi_coll_overtaken_total", Help: "collective requests overtaken", ConstLabels: labels,
		}),
	}
	t.reg.MustRegister(t.framesTx, t.framesRx, t.bytesTx, t.bytesRx, t.matched, t.unexpected, t.overtaken)
	return t
}

// Registry exposes the engine's registry for scraping by the embedding
// program.
func (t *Tracker) Registry() *prometheus.Registry { return t.reg }

func (t *Tracker) FrameTx(peer, payloadLen int) {
	t.framesTx.WithLabelValues(strconv.Itoa(peer)).Inc()
	t.bytesTx.Add(float64(payloadLen))
}

func (t *Tracker) FrameRx(peer, payloadLen int) {
	t.framesRx.WithLabelValues(strconv.Itoa(peer)).Inc()
	t.bytesRx.Add(float64(payloadLen))
}

func (t *Tracker) Matched()    { t.matched.Inc() }
func (t *Tracker) Unexpected() { t.unexpected.Inc() }
func (t *Tracker) Overtaken()  { t.overtaken.Inc() }
