package dicomnet

import (
	"testing"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/dicomrouter/retrieve-core/pkg/query"
)

func TestEncodeDecodeIdentifierRoundTrip(t *testing.T) {
	q := query.NewQuery()
	q.Set(tag.PatientID, "PAT001")
	q.Set(tag.StudyInstanceUID, "1.2.3.4.5")
	q.Set(tag.QueryRetrieveLevel, "STUDY")

	raw, err := encodeIdentifier(q)
	if err != nil {
		t.Fatalf("encodeIdentifier: %v", err)
	}

	answer, err := decodeAnswer(raw, false)
	if err != nil {
		t.Fatalf("decodeAnswer: %v", err)
	}
	if answer.IsWorklist {
		t.Fatal("IsWorklist should be false")
	}

	for _, tc := range []struct {
		tag  tag.Tag
		want string
	}{
		{tag.PatientID, "PAT001"},
		{tag.StudyInstanceUID, "1.2.3.4.5"},
		{tag.QueryRetrieveLevel, "STUDY"},
	} {
		got, ok := answer.Get(tc.tag)
		if !ok {
			t.Fatalf("missing tag %v in decoded answer", tc.tag)
		}
		if got != tc.want {
			t.Fatalf("tag %v = %q, want %q", tc.tag, got, tc.want)
		}
	}
}

func TestDecodeAnswerWorklistFlagPropagates(t *testing.T) {
	q := query.NewQuery()
	q.Set(tag.PatientID, "PAT002")
	raw, err := encodeIdentifier(q)
	if err != nil {
		t.Fatalf("encodeIdentifier: %v", err)
	}

	answer, err := decodeAnswer(raw, true)
	if err != nil {
		t.Fatalf("decodeAnswer: %v", err)
	}
	if !answer.IsWorklist {
		t.Fatal("IsWorklist should be true")
	}
}

func TestDatasetStringFindsMatchingTag(t *testing.T) {
	q := query.NewQuery()
	q.Set(tag.SOPInstanceUID, "1.2.3.999")
	raw, err := encodeIdentifier(q)
	if err != nil {
		t.Fatalf("encodeIdentifier: %v", err)
	}

	ds, err := decodeDataset(raw)
	if err != nil {
		t.Fatalf("decodeDataset: %v", err)
	}

	got, ok := DatasetString(ds, tag.SOPInstanceUID)
	if !ok {
		t.Fatal("expected SOPInstanceUID to be found")
	}
	if got != "1.2.3.999" {
		t.Fatalf("SOPInstanceUID = %q, want 1.2.3.999", got)
	}

	if _, ok := DatasetString(ds, tag.PatientID); ok {
		t.Fatal("PatientID was never set, expected not found")
	}
}
