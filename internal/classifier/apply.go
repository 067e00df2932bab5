package classifier

import (
	"github.com/omarluq/gem-relay/internal/registry"
)

// KeyActions is the slice of registry behavior the classifier needs to
// discipline a credential. *registry.Registry satisfies it.
type KeyActions interface {
	MarkFailed(credential string)
	IncrementFailure(credential string) int
	CoolDown(credential, model string)
	RemoveFromPool(credential string)
}

// Classifier applies classification verdicts to credentials and records
// each one through the sink.
type Classifier struct {
	keys KeyActions
	sink *Sink
}

// New returns a classifier acting on keys. A nil sink disables recording.
func New(keys KeyActions, sink *Sink) *Classifier {
	return &Classifier{keys: keys, sink: sink}
}

// Handle classifies err, applies the resulting key action to credential,
// and returns the classification.
func (c *Classifier) Handle(err error, credential, model string) Classification {
	cls := Classify(err, model)
	c.Apply(cls, credential, model)
	return cls
}

// Apply executes the classification's key action against credential and
// emits one record. It never blocks on the sink.
func (c *Classifier) Apply(cls Classification, credential, model string) {
	if c.keys != nil && credential != "" {
		switch cls.KeyAction {
		case ActionCoolDownModel:
			c.keys.CoolDown(credential, model)
			c.keys.RemoveFromPool(credential)
		case ActionMarkFailed:
			c.keys.MarkFailed(credential)
		case ActionDecrementAndEvict:
			c.keys.IncrementFailure(credential)
			c.keys.RemoveFromPool(credential)
		case ActionCountOnly:
			c.keys.IncrementFailure(credential)
		}
	}

	if c.sink != nil {
		c.sink.Emit(Record{
			KeyPrefix: registry.Prefix(credential),
			Model:     model,
			Kind:      cls.Kind,
			Code:      cls.StatusCode,
			Message:   cls.Message,
		})
	}
}
