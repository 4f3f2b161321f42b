package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	objectsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isn_objects_stored_total",
		Help: "Objects accepted into the study cache.",
	})

	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "isn_submissions_total",
		Help: "Completed submission attempts by outcome.",
	}, []string{"outcome"})

	documentsRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isn_documents_retrieved_total",
		Help: "Documents downloaded from the clearinghouse repository.",
	})

	imagesRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "isn_images_retrieved_total",
		Help: "Image objects downloaded from the clearinghouse.",
	})
)
