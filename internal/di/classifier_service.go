package di

import (
	"github.com/samber/do/v2"

	"github.com/omarluq/gem-relay/internal/classifier"
)

// sinkBuffer is the classification record channel depth. Records past
// this are dropped and counted rather than blocking the request path.
const sinkBuffer = 256

// ClassifierService wraps the error classifier and its record sink.
type ClassifierService struct {
	Classifier *classifier.Classifier
	Sink       *classifier.Sink
}

// NewClassifier creates the error classifier over the registry.
func NewClassifier(i do.Injector) (*ClassifierService, error) {
	regSvc := do.MustInvoke[*RegistryService](i)
	logSvc := do.MustInvoke[*LoggerService](i)

	sink := classifier.NewSink(sinkBuffer, logSvc.Logger)
	ec := classifier.New(regSvc.Registry, sink)

	return &ClassifierService{Classifier: ec, Sink: sink}, nil
}

// Shutdown implements do.Shutdowner; it drains pending records before
// closing the sink.
func (c *ClassifierService) Shutdown() error {
	if c.Sink != nil {
		return c.Sink.Shutdown()
	}
	return nil
}
