package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors is the set of counters one storage stack reports to. Each
// orchestrator and session manager is handed its own set, so embedding
// processes and tests never share counter state.
type Collectors struct {
	Saves           *prometheus.CounterVec
	RemoteWrites    *prometheus.CounterVec
	DecryptFailures prometheus.Counter
	PurgedKeys      prometheus.Counter
}

func New() *Collectors {
	return &Collectors{
		Saves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cic_lesson_saves_total",
				Help: "Lesson saves by result (stored, blocked)",
			},
			[]string{"result"},
		),
		RemoteWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cic_remote_writes_total",
				Help: "Remote document writes by result (ok, error, reauth)",
			},
			[]string{"result"},
		),
		DecryptFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cic_decrypt_failures_total",
				Help: "Remote payloads that could not be decrypted with the active identity",
			},
		),
		PurgedKeys: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cic_purged_keys_total",
				Help: "Local keys removed by session isolation",
			},
		),
	}
}

// Register adds every collector to reg.
func (c *Collectors) Register(reg prometheus.Registerer) {
	reg.MustRegister(c.Saves, c.RemoteWrites, c.DecryptFailures, c.PurgedKeys)
}
