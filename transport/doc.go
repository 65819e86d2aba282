// Package transport carries events between devices and the inspector over
// websockets.
//
// Every message is a Frame: an event name, a unique id, a millisecond
// timestamp and a payload. Frames are encoded by a Codec chosen per
// connection with the "codec" query parameter. JSON travels as text
// messages and CBOR as binary messages.
//
// Client is the device side. It connects once per Connect call and
// dispatches incoming frames to handlers on a single goroutine, so handlers
// observe frames in arrival order. Registry shares one Client per inspector
// URL within a process.
package transport
