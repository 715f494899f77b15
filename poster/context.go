package poster

import "context"

// key is an unexported type to prevent collisions with context keys from
// other packages.
type key struct{}

// mainKey marks contexts whose code is running on the main execution context.
var mainKey = key{}

// WithMainContext returns a context marked as running on the main execution
// context. The drain loop stamps it onto the context passed to every executed
// task, so code reached from the main loop is recognized by Post; a program
// whose own main goroutine acts as the host main context marks its root
// context the same way.
func WithMainContext(ctx context.Context) context.Context {
	if OnMain(ctx) {
		return ctx
	}
	return context.WithValue(ctx, mainKey, true)
}

// OnMain reports whether ctx is marked as the main execution context.
func OnMain(ctx context.Context) bool {
	on, _ := ctx.Value(mainKey).(bool)
	return on
}
