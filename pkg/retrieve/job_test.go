package retrieve

import (
	"testing"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/dicomrouter/retrieve-core/pkg/dicomnet"
	"github.com/dicomrouter/retrieve-core/pkg/query"
)

type fakeDirectory struct {
	accepted []string
	syntaxes []string
}

func (f *fakeDirectory) AcceptedStorageSOPClasses(topN int) []string {
	if topN < len(f.accepted) {
		return append([]string{}, f.accepted[:topN]...)
	}
	return append([]string{}, f.accepted...)
}

func (f *fakeDirectory) ProposedTransferSyntaxes() []string {
	return append([]string{}, f.syntaxes...)
}

func studyAnswer() query.FindAnswer {
	return query.FindAnswer{Fields: map[tag.Tag]string{
		tag.QueryRetrieveLevel: "STUDY",
		tag.StudyInstanceUID:   "1.2.3",
	}}
}

func TestAddFindAnswerRejectedAfterStart(t *testing.T) {
	job := NewMoveJob(dicomnet.AssociationParameters{LocalAET: "US", RemoteAET: "THEM"}, "DEST")
	if err := job.AddFindAnswer(studyAnswer()); err != nil {
		t.Fatalf("AddFindAnswer before start: %v", err)
	}

	job.mu.Lock()
	job.started = true
	job.mu.Unlock()

	err := job.AddFindAnswer(studyAnswer())
	var netErr *dicomnet.Error
	if err == nil {
		t.Fatal("expected error adding to a started job")
	}
	if !asError(err, &netErr) || netErr.Kind != dicomnet.KindBadSequenceOfCalls {
		t.Fatalf("got %v, want BadSequenceOfCalls", err)
	}
}

func asError(err error, target **dicomnet.Error) bool {
	e, ok := err.(*dicomnet.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestResolveGetProposalsIntersectsStudyHint(t *testing.T) {
	dir := &fakeDirectory{
		accepted: []string{"1.2.840.10008.5.1.4.1.1.7", "1.2.840.10008.5.1.4.1.1.4", "1.2.840.10008.5.1.4.1.1.2"},
		syntaxes: []string{dicomnet.TransferSyntaxImplicitVRLittleEndian},
	}
	job := NewGetJob(dicomnet.AssociationParameters{LocalAET: "US", RemoteAET: "THEM"}, dir)

	answer := query.FindAnswer{Fields: map[tag.Tag]string{
		tag.QueryRetrieveLevel: "STUDY",
		tag.StudyInstanceUID:   "1.2.3",
		tag.SOPClassesInStudy:  "1.2.840.10008.5.1.4.1.1.4\\1.2.840.10008.5.1.4.1.1.2",
	}}

	if err := job.resolveGetProposalsLocked(answer); err != nil {
		t.Fatalf("resolveGetProposalsLocked: %v", err)
	}
	if len(job.get.storageSOPClasses) != 2 {
		t.Fatalf("storageSOPClasses = %v, want 2 entries", job.get.storageSOPClasses)
	}
	for _, uid := range job.get.storageSOPClasses {
		if uid == "1.2.840.10008.5.1.4.1.1.7" {
			t.Fatalf("storageSOPClasses = %v, should not include unhinted class", job.get.storageSOPClasses)
		}
	}
}

func TestResolveGetProposalsFallsBackToTopNWithoutHint(t *testing.T) {
	dir := &fakeDirectory{
		accepted: []string{"A", "B", "C"},
		syntaxes: []string{dicomnet.TransferSyntaxImplicitVRLittleEndian},
	}
	job := NewGetJob(dicomnet.AssociationParameters{LocalAET: "US", RemoteAET: "THEM"}, dir)

	if err := job.resolveGetProposalsLocked(studyAnswer()); err != nil {
		t.Fatalf("resolveGetProposalsLocked: %v", err)
	}
	if len(job.get.storageSOPClasses) != 3 {
		t.Fatalf("storageSOPClasses = %v, want all 3 accepted classes", job.get.storageSOPClasses)
	}
}

func TestResolveGetProposalsEmptyIsNoPresentationContext(t *testing.T) {
	dir := &fakeDirectory{}
	job := NewGetJob(dicomnet.AssociationParameters{LocalAET: "US", RemoteAET: "THEM"}, dir)

	err := job.resolveGetProposalsLocked(studyAnswer())
	var netErr *dicomnet.Error
	if !asError(err, &netErr) || netErr.Kind != dicomnet.KindNoPresentationContext {
		t.Fatalf("got %v, want NoPresentationContext", err)
	}
}

func TestProgressCountersProgress(t *testing.T) {
	var c ProgressCounters
	if got := c.Progress(); got != 0 {
		t.Fatalf("Progress on zero counters = %v, want 0", got)
	}

	c.update(dicomnet.GetProgress{Remaining: 2, Completed: 1, Failed: 1})
	if got := c.Progress(); got != 0.5 {
		t.Fatalf("Progress = %v, want 0.5", got)
	}
}

func TestRunCommandFailsWithoutQueryRetrieveLevel(t *testing.T) {
	job := NewMoveJob(dicomnet.AssociationParameters{LocalAET: "US", RemoteAET: "THEM"}, "DEST")
	cmd := NewCommand(query.FindAnswer{Fields: map[tag.Tag]string{tag.StudyInstanceUID: "1.2.3"}})

	err := job.runCommand(nil, cmd)
	var netErr *dicomnet.Error
	if !asError(err, &netErr) || netErr.Kind != dicomnet.KindInternalError {
		t.Fatalf("got %v, want InternalError", err)
	}
}
