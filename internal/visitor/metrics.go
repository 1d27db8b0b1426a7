package visitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DocumentsVisited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reindexer_documents_visited_total",
		Help: "The total number of documents read during reindexing",
	}, []string{"type"})

	DocumentsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reindexer_documents_published_total",
		Help: "The total number of documents re-fed during reindexing",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(DocumentsVisited)
	prometheus.MustRegister(DocumentsPublished)
}
