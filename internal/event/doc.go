// Package event provides the publish/subscribe primitive shared by inputs,
// press classifiers and transports.
//
// A Binding owns an ordered subscriber list. Subscribe returns a Token whose
// Cancel removes exactly that subscriber. Tokens hold only a weak reference
// to their binding, so a token outliving its publisher never keeps it alive
// and cancelling it is a harmless no-op.
//
// Callback failures are isolated: an error or panic from one subscriber is
// logged and the remaining subscribers still run.
//
// # Usage
//
//	changes := event.NewBinding[int]("input:hall-switch")
//	tok := changes.Subscribe(func(v int) error {
//	    return light.SetValue(v)
//	})
//	defer tok.Cancel()
//
//	changes.Publish(1)
package event
