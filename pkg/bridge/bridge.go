// Package bridge carries events from the service layer to the host
// application that embeds the shared library.
package bridge

type NotifyFunc func(topic string, payload string)

var impl NotifyFunc

// SetNotifyImpl installs the host callback. The cgo entry point calls it once
// at load time.
func SetNotifyImpl(f NotifyFunc) {
	impl = f
}

// Notify forwards an event to the host, if one is listening.
func Notify(topic string, payload string) {
	if impl != nil {
		impl(topic, payload)
	}
}
