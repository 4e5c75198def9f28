package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var checkinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classattend_checkins_total",
	Help: "Attendance records created by live check-ins, by resulting status.",
}, []string{"status"})
