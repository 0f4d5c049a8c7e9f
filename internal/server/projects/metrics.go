package projects

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sceneSaves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "levelstore",
		Name:      "scene_saves_total",
		Help:      "Scenes saved.",
	})
	sceneReverts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "levelstore",
		Name:      "scene_reverts_total",
		Help:      "Scenes restored from a backup.",
	})
	backupsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "levelstore",
		Name:      "backups_evicted_total",
		Help:      "Backups dropped by the retention bound.",
	})
)
