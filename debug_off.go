//go:build !debug
// +build !debug

package broker

// debug is set in builds with the debug tag. Debug builds log every
// registration request and every traced packet.
var debug = false
