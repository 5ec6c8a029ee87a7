package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(examPollsTotal, examJobsTotal) }

var (
	examPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_exam_polls_total",
			Help: "Exam status fetches, labeled by result.",
		},
		[]string{"result"}, // 'running', 'complete', 'error', 'transport_error', 'stale'
	)

	examJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "study_exam_jobs_total",
			Help: "Exam jobs that reached a terminal state, labeled by status.",
		},
		[]string{"status"},
	)
)

func IncExamPoll(result string) {
	examPollsTotal.WithLabelValues(norm(result)).Inc()
}

func IncExamJob(status string) {
	examJobsTotal.WithLabelValues(norm(status)).Inc()
}
