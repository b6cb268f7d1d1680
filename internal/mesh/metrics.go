package mesh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// observationsTotal counts observations accepted into the engine
	observationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshmap_observations_total",
		Help: "Total number of packet observations ingested",
	})

	// observationsDropped counts observations rejected by the normalizer
	observationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshmap_observations_dropped_total",
		Help: "Total number of packet observations dropped during normalization",
	}, []string{"reason"})

	// estimatesTotal counts position estimation attempts by outcome
	estimatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshmap_position_estimates_total",
		Help: "Total number of position estimation attempts",
	}, []string{"outcome"})

	// nodesTracked reports the current size of the node registry
	nodesTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshmap_nodes_tracked",
		Help: "Number of nodes currently tracked in the registry",
	})

	// connectionsTracked reports the current size of the link table
	connectionsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshmap_connections_tracked",
		Help: "Number of directed node pairs currently tracked",
	})
)
