// Package press classifies raw button edges into double presses and long
// presses.
//
// A Classifier is owned by one input. The input calls NotifyRawChange on
// every value flip; subscribers register with OnDoublePress and
// OnLongPress. Each kind runs in its own goroutine only while it has
// subscribers, so an input whose presses nobody watches costs nothing.
//
//	Double press: a second change within the window fires.
//	Long press:   no further change within the window fires.
package press
