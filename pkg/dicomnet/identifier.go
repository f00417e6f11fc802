package dicomnet

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/dicomrouter/retrieve-core/pkg/query"
)

// encodeIdentifier writes q as an Implicit VR Little Endian dataset, the
// identifier body that follows a C-FIND-RQ/C-MOVE-RQ/C-GET-RQ command.
// Every value in a query.Query is kept as its string wire form, so every
// element is built the same way regardless of VR.
func encodeIdentifier(q *query.Query) ([]byte, error) {
	var buf bytes.Buffer
	w, err := dicom.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("encode identifier: %w", err)
	}
	w.SetTransferSyntax(binary.LittleEndian, true)

	for _, t := range q.Tags() {
		v, _ := q.Get(t)
		el, err := dicom.NewElement(t, []string{v})
		if err != nil {
			return nil, fmt.Errorf("encode identifier element %s: %w", t.String(), err)
		}
		if err := w.WriteElement(el); err != nil {
			return nil, fmt.Errorf("encode identifier element %s: %w", t.String(), err)
		}
	}
	return buf.Bytes(), nil
}

// decodeAnswer parses a C-FIND-RSP/C-GET-RSP identifier dataset into a
// FindAnswer. Numeric VRs are rendered back to their string wire form so
// callers only ever deal with query.Query/FindAnswer's string-valued model.
func decodeAnswer(raw []byte, worklist bool) (query.FindAnswer, error) {
	r := bytes.NewReader(raw)
	ds, err := dicom.Parse(r, int64(r.Len()), nil, dicom.SkipPixelData(), dicom.SkipMetadataReadOnNewParserInit())
	if err != nil {
		return query.FindAnswer{}, fmt.Errorf("decode answer: %w", err)
	}

	fields := make(map[tag.Tag]string, len(ds.Elements))
	for _, el := range ds.Elements {
		if el.Value == nil {
			continue
		}
		fields[el.Tag] = stringifyElementValue(el)
	}
	return query.FindAnswer{Fields: fields, IsWorklist: worklist}, nil
}

// DatasetString returns the string wire form of t in ds, used by callers
// that need a single field (e.g. SOPInstanceUID) out of a received dataset
// without decoding the whole thing into a query.FindAnswer.
func DatasetString(ds *dicom.Dataset, t tag.Tag) (string, bool) {
	for _, el := range ds.Elements {
		if el.Tag != t || el.Value == nil {
			continue
		}
		return stringifyElementValue(el), true
	}
	return "", false
}

func stringifyElementValue(el *dicom.Element) string {
	switch v := el.Value.GetValue().(type) {
	case []string:
		if len(v) == 0 {
			return ""
		}
		return v[0]
	case []int:
		if len(v) == 0 {
			return ""
		}
		return fmt.Sprintf("%d", v[0])
	default:
		return fmt.Sprintf("%v", v)
	}
}
