//go:build debug
// +build debug

package broker

var debug = true
