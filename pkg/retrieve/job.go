package retrieve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/dicomrouter/retrieve-core/pkg/dicomnet"
	"github.com/dicomrouter/retrieve-core/pkg/query"
)

// StorageSOPClassDirectory is the collaborator a Get job consults to
// resolve which storage SOP classes to propose: the surrounding server's
// list of accepted storage SOP classes (ranked, so a top-N slice is
// meaningful) and its proposed storage transfer-syntax list.
type StorageSOPClassDirectory interface {
	AcceptedStorageSOPClasses(topN int) []string
	ProposedTransferSyntaxes() []string
}

// maxGetProposals is the DICOM presentation-context-per-association limit
// (128), minus headroom for Verification/Find/Move contexts also proposed
// on the same connection.
const maxGetProposals = 120

// ProgressCounters are the sub-operation counters last reported by the
// peer for the command being retrieved, updated under a mutex on every
// progress callback. Each update replaces all four values; nothing is
// summed across commands. Remaining only decreases; Completed/Failed/Warning only
// increase within a single command's attempt.
type ProgressCounters struct {
	mu                                       sync.Mutex
	Remaining, Completed, Failed, Warning    uint16
}

func (c *ProgressCounters) update(p dicomnet.GetProgress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Remaining = p.Remaining
	c.Completed = p.Completed
	c.Failed = p.Failed
	c.Warning = p.Warning
}

// Snapshot returns a consistent copy of the counters.
func (c *ProgressCounters) Snapshot() ProgressCounters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ProgressCounters{Remaining: c.Remaining, Completed: c.Completed, Failed: c.Failed, Warning: c.Warning}
}

// Progress returns (completed+failed+warning)/(remaining+completed+failed+warning),
// or 0 if every counter is still zero.
func (c *ProgressCounters) Progress() float64 {
	s := c.Snapshot()
	total := int(s.Remaining) + int(s.Completed) + int(s.Failed) + int(s.Warning)
	if total == 0 {
		return 0
	}
	done := int(s.Completed) + int(s.Failed) + int(s.Warning)
	return float64(done) / float64(total)
}

// moveMode and getMode are the two concrete job behaviors, held directly
// by RetrieveJob as a composition instead of a base-class/subclass split:
// exactly one of the two is non-nil for a given job.
type moveMode struct {
	targetAET string
}

type getMode struct {
	directory         StorageSOPClassDirectory
	resolved          bool
	storageSOPClasses []string
	transferSyntaxes  []string
}

// RetrieveJob is an ordered, resumable list of RetrieveCommands driven
// sequentially against one peer through a lazily opened ControlConnection.
type RetrieveJob struct {
	mu       sync.Mutex
	params   dicomnet.AssociationParameters
	move     *moveMode
	get      *getMode
	commands []*Command
	succeeded []bool
	counters ProgressCounters
	conn     *dicomnet.ControlConnection
	registry *MessageRegistry
	started  bool
}

// NewMoveJob creates a Move-variant job that will issue C-MOVE to
// targetAET for each Find answer appended to it.
func NewMoveJob(params dicomnet.AssociationParameters, targetAET string) *RetrieveJob {
	return &RetrieveJob{
		params:   params,
		move:     &moveMode{targetAET: targetAET},
		registry: defaultRegistry,
	}
}

// NewGetJob creates a Get-variant job that will issue C-GET for each Find
// answer appended to it, resolving storage SOP classes from directory on
// its first command.
func NewGetJob(params dicomnet.AssociationParameters, directory StorageSOPClassDirectory) *RetrieveJob {
	return &RetrieveJob{
		params:   params,
		get:      &getMode{directory: directory},
		registry: defaultRegistry,
	}
}

// AddFindAnswer appends a new command wrapping answer. Fails with
// BadSequenceOfCalls once the job has started running.
func (j *RetrieveJob) AddFindAnswer(answer query.FindAnswer) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return dicomnetBadSequence("AddFindAnswer", "job has already started")
	}
	j.commands = append(j.commands, NewCommand(answer))
	j.succeeded = append(j.succeeded, false)
	return nil
}

// Commands returns the job's commands in execution order. Callers must
// not mutate the returned slice.
func (j *RetrieveJob) Commands() []*Command {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*Command, len(j.commands))
	copy(out, j.commands)
	return out
}

// Counters returns a snapshot of the job's latest sub-operation counters.
func (j *RetrieveJob) Counters() ProgressCounters {
	return j.counters.Snapshot()
}

// Stop closes the job's ControlConnection, if one is open, interrupting
// whatever command is in flight. Any sub-operation already begun on the
// peer may still complete there but is discarded locally.
func (j *RetrieveJob) Stop() error {
	j.mu.Lock()
	conn := j.conn
	j.conn = nil
	j.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Run drives every not-yet-succeeded command to completion in order,
// opening the connection on first use. A command failure is recorded on
// that command and does not stop the remaining commands; Run returns the
// first error encountered, if any, after all commands have been attempted.
func (j *RetrieveJob) Run(ctx context.Context) error {
	j.mu.Lock()
	j.started = true
	commands := make([]*Command, len(j.commands))
	copy(commands, j.commands)
	j.mu.Unlock()

	var firstErr error
	for i, cmd := range commands {
		j.mu.Lock()
		done := j.succeeded[i]
		j.mu.Unlock()
		if done {
			continue
		}

		err := j.runCommand(ctx, cmd)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		j.mu.Lock()
		j.succeeded[i] = true
		j.mu.Unlock()
	}
	return firstErr
}

func (j *RetrieveJob) runCommand(ctx context.Context, cmd *Command) error {
	answer := cmd.Answer()
	levelStr, _ := answer.Get(tag.QueryRetrieveLevel)
	level, ok := dicomnet.ParseQueryRetrieveLevel(levelStr)
	if !ok {
		return newInternalError("run", fmt.Errorf("find answer missing QueryRetrieveLevel"))
	}

	if err := j.ensureConnection(ctx, answer); err != nil {
		return err
	}

	identifier := identifierFromAnswer(answer)
	messageID := j.registry.NextMessageID()
	j.registry.Register(j.params.LocalAET, messageID, cmd)
	defer j.registry.Unregister(j.params.LocalAET, messageID)

	if j.move != nil {
		progress, err := j.conn.Move(ctx, j.move.targetAET, level, identifier)
		j.counters.update(progress)
		return j.finishAttempt(cmd, err)
	}

	onInstance := func(ctx context.Context, ds *dicom.Dataset, remoteAET, remoteIP, calledAET string) uint16 {
		instanceID, ok := dicomnet.DatasetString(ds, tag.SOPInstanceUID)
		if !ok {
			return dicomnet.StatusStoreCannotUnderstand
		}
		AddReceivedInstanceFromCStore(messageID, j.params.LocalAET, instanceID)
		return dicomnet.StatusSuccess
	}
	err := j.conn.Get(ctx, level, identifier, onInstance, j.counters.update)
	return j.finishAttempt(cmd, err)
}

func (j *RetrieveJob) finishAttempt(cmd *Command, err error) error {
	var status uint16 = dicomnet.StatusSuccess
	var netErr *dicomnet.Error
	if errors.As(err, &netErr) {
		status = netErr.DimseStatus
	}
	cmd.setStatus(status)
	return err
}

func (j *RetrieveJob) ensureConnection(ctx context.Context, firstAnswer query.FindAnswer) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.conn != nil {
		return nil
	}

	cfg := dicomnet.ControlConnectionConfig{
		MoveLevels: []dicomnet.QueryRetrieveLevel{dicomnet.LevelPatient, dicomnet.LevelStudy},
	}
	if j.get != nil {
		if err := j.resolveGetProposalsLocked(firstAnswer); err != nil {
			return err
		}
		cfg = dicomnet.ControlConnectionConfig{
			GetLevels: []dicomnet.QueryRetrieveLevel{dicomnet.LevelPatient, dicomnet.LevelStudy},
			Get: &dicomnet.GetConfig{
				StorageSOPClasses: j.get.storageSOPClasses,
				TransferSyntaxes:  j.get.transferSyntaxes,
			},
		}
	}

	conn := dicomnet.NewControlConnection(j.params, cfg)
	if err := conn.Open(ctx); err != nil {
		return err
	}
	j.conn = conn
	return nil
}

func (j *RetrieveJob) resolveGetProposalsLocked(firstAnswer query.FindAnswer) error {
	if j.get.resolved {
		return nil
	}
	j.get.resolved = true
	j.get.transferSyntaxes = j.get.directory.ProposedTransferSyntaxes()

	accepted := j.get.directory.AcceptedStorageSOPClasses(maxGetProposals)
	if hinted, ok := firstAnswer.Get(tag.SOPClassesInStudy); ok && hinted != "" {
		hintSet := make(map[string]bool)
		for _, uid := range strings.Split(hinted, "\\") {
			hintSet[uid] = true
		}
		var intersected []string
		for _, uid := range accepted {
			if hintSet[uid] {
				intersected = append(intersected, uid)
			}
		}
		j.get.storageSOPClasses = intersected
	} else {
		if len(accepted) > maxGetProposals {
			accepted = accepted[:maxGetProposals]
		}
		j.get.storageSOPClasses = accepted
	}

	if len(j.get.storageSOPClasses) == 0 {
		return newNoPresentationContext("get", fmt.Errorf("no storage SOP classes to propose"))
	}
	return nil
}

func identifierFromAnswer(answer query.FindAnswer) *query.Query {
	q := query.NewQuery()
	for t, v := range answer.Fields {
		q.Set(t, v)
	}
	return q
}

func dicomnetBadSequence(op, msg string) error {
	return newBadSequenceOfCalls(op, fmt.Errorf("%s", msg))
}
