package retrieve

import (
	"sync"

	"github.com/dicomrouter/retrieve-core/pkg/query"
)

// Command is one sub-task inside a RetrieveJob: a stored Find answer, the
// last DIMSE status observed while retrieving it, and the instance ids
// the peer (or a downstream storage SCP) reported receiving on its
// behalf. A RetrieveJob owns its Commands exclusively; nothing outside
// the job holds a Command beyond the lifetime of one attempt, except the
// MessageRegistry's non-owning reference while the attempt runs.
type Command struct {
	mu sync.Mutex

	answer               query.FindAnswer
	dimseStatus          uint16
	receivedInstanceIDs  []string
}

// NewCommand wraps answer (cloned, so the job's copy is independent of
// whatever collection it came from) into a fresh, never-yet-run command.
func NewCommand(answer query.FindAnswer) *Command {
	return &Command{answer: answer.Clone()}
}

// Answer returns the stored Find answer this command retrieves.
func (c *Command) Answer() query.FindAnswer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answer
}

// Status returns the last observed DIMSE status for this command's most
// recent attempt (0 if it has never been attempted).
func (c *Command) Status() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimseStatus
}

// setStatus records the outcome status of an attempt.
func (c *Command) setStatus(status uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dimseStatus = status
}

// ReceivedInstanceIDs returns a snapshot of the instance ids attributed to
// this command so far.
func (c *Command) ReceivedInstanceIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.receivedInstanceIDs))
	copy(out, c.receivedInstanceIDs)
	return out
}

func (c *Command) addReceivedInstance(instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivedInstanceIDs = append(c.receivedInstanceIDs, instanceID)
}
