// Package chat implements the room session core of the chat service.
//
// It owns who is connected (Registry), what each room has said (History),
// the polls running in each room (Polls) and the Coordinator that turns
// inbound client events into outbound deliveries. Nothing in this package
// performs network I/O; the transport hands events to the Coordinator and
// receives encoded fan-out through the Delivery interface.
package chat
