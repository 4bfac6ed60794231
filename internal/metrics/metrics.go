package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebox_orders_created_total",
		Help: "Total number of orders successfully created.",
	})

	StatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebox_status_transitions_total",
		Help: "Total number of committed order status transitions.",
	},
		[]string{"to"},
	)

	TxConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebox_tx_conflicts_total",
		Help: "Total number of document store transaction conflicts that were retried.",
	},
		[]string{"operation"},
	)

	LabelsIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebox_labels_issued_total",
		Help: "Total number of shipping labels purchased, by kind.",
	},
		[]string{"kind"},
	)

	LabelProviderErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebox_label_provider_errors_total",
		Help: "Total number of failed label provider calls.",
	})

	MailSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebox_mail_sent_total",
		Help: "Total number of transactional mails, by result.",
	},
		[]string{"result"},
	)

	AuditWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradebox_audit_write_failures_total",
		Help: "Total number of best-effort audit entries that could not be written.",
	})

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradebox_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)
)
