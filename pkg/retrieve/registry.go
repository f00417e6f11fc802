// Package retrieve implements RetrieveJob, the resumable batch of
// per-answer retrieval commands that drives a ControlConnection's Move or
// Get operation across a Find result set.
package retrieve

import "sync"

// messageRegistryKey identifies one in-flight outbound DIMSE message by
// the local AE title that sent it and the message id it was assigned.
type messageRegistryKey struct {
	localAET  string
	messageID uint16
}

// MessageRegistry correlates an inbound C-STORE sub-operation back to the
// RetrieveCommand that initiated it, across whatever connection actually
// receives the store (the same C-Get association, or an entirely separate
// one for a Move's destination AE). It holds non-owning references: a
// command is registered for the lifetime of one execution attempt and
// always unregistered by its own cleanup, never by a reader.
type MessageRegistry struct {
	mu      sync.Mutex
	entries map[messageRegistryKey]*Command
	next    uint16
}

// NewMessageRegistry returns an empty registry with its message-id counter
// seeded at 1000, below which ids are reserved for ad-hoc (non-job)
// exchanges such as Echo/Find/Move issued directly on a ControlConnection.
func NewMessageRegistry() *MessageRegistry {
	return &MessageRegistry{
		entries: make(map[messageRegistryKey]*Command),
		next:    1000,
	}
}

// NextMessageID returns the next id in the job message-id space, wrapping
// from 65535 back to 1000 rather than down to 0.
func (r *MessageRegistry) NextMessageID() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	if r.next == 65535 {
		r.next = 1000
	} else {
		r.next++
	}
	return id
}

// Register records that messageID sent from localAET is currently owned
// by cmd. Call Unregister (normally via defer) once the command's attempt
// ends, success or failure.
func (r *MessageRegistry) Register(localAET string, messageID uint16, cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[messageRegistryKey{localAET, messageID}] = cmd
}

// Unregister removes the entry for (localAET, messageID), if present.
func (r *MessageRegistry) Unregister(localAET string, messageID uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, messageRegistryKey{localAET, messageID})
}

// Lookup returns the command currently registered for (localAET,
// messageID), or ok=false if none is running under that key right now.
func (r *MessageRegistry) Lookup(localAET string, messageID uint16) (*Command, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.entries[messageRegistryKey{localAET, messageID}]
	return cmd, ok
}

// defaultRegistry is the process-wide registry every RetrieveJob uses;
// tests that need an isolated one reassign this variable directly.
var defaultRegistry = NewMessageRegistry()

// AddReceivedInstanceFromCStore attributes instanceID to whichever command
// is registered under (originatorAET, originatorMessageID), appending it
// to that command's received-instance list. Returns false if no command
// is currently registered under that key (the store arrived for a
// message this process no longer tracks).
//
// This is the single attribution path for both job variants: the Move
// variant's storage destination calls it using the MoveOriginatorMessageID
// carried on the inbound C-STORE-RQ; the Get variant's instance-received
// callback calls it using the message id of the C-GET that is receiving
// the nested C-STORE.
func AddReceivedInstanceFromCStore(originatorMessageID uint16, originatorAET, instanceID string) bool {
	cmd, ok := defaultRegistry.Lookup(originatorAET, originatorMessageID)
	if !ok {
		return false
	}
	cmd.addReceivedInstance(instanceID)
	return true
}
