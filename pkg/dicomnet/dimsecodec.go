package dicomnet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// DIMSE command field values, DICOM PS3.7 Annex E.
const (
	CommandFieldCStoreRQ  uint16 = 0x0001
	CommandFieldCStoreRSP uint16 = 0x8001
	CommandFieldCGetRQ    uint16 = 0x0010
	CommandFieldCGetRSP   uint16 = 0x8010
	CommandFieldCFindRQ   uint16 = 0x0020
	CommandFieldCFindRSP  uint16 = 0x8020
	CommandFieldCMoveRQ   uint16 = 0x0021
	CommandFieldCMoveRSP  uint16 = 0x8021
	CommandFieldCEchoRQ   uint16 = 0x0030
	CommandFieldCEchoRSP  uint16 = 0x8030
)

// DIMSE status codes the core interprets, DICOM PS3.7 Annex C.
const (
	StatusSuccess             uint16 = 0x0000
	StatusPending             uint16 = 0xFF00
	StatusPendingMoreMatches  uint16 = 0xFF01 // valid for C-FIND only, see design notes
	StatusFindUnableToProcess uint16 = 0xC000
	StatusMoveUnableToProcess uint16 = 0xC000
	StatusStoreCannotUnderstand uint16 = 0xC000
)

const (
	dataSetTypeNull uint16 = 0x0101
)

var (
	tagCommandGroupLength            = tag.Tag{Group: 0x0000, Element: 0x0000}
	tagAffectedSOPClassUID           = tag.Tag{Group: 0x0000, Element: 0x0002}
	tagCommandField                  = tag.Tag{Group: 0x0000, Element: 0x0100}
	tagMessageID                     = tag.Tag{Group: 0x0000, Element: 0x0110}
	tagMessageIDBeingRespondedTo     = tag.Tag{Group: 0x0000, Element: 0x0120}
	tagMoveDestination               = tag.Tag{Group: 0x0000, Element: 0x0600}
	tagPriority                      = tag.Tag{Group: 0x0000, Element: 0x0700}
	tagCommandDataSetType            = tag.Tag{Group: 0x0000, Element: 0x0800}
	tagStatus                        = tag.Tag{Group: 0x0000, Element: 0x0900}
	tagAffectedSOPInstanceUID        = tag.Tag{Group: 0x0000, Element: 0x1000}
	tagNumberOfRemainingSubops       = tag.Tag{Group: 0x0000, Element: 0x1020}
	tagNumberOfCompletedSubops       = tag.Tag{Group: 0x0000, Element: 0x1021}
	tagNumberOfFailedSubops          = tag.Tag{Group: 0x0000, Element: 0x1022}
	tagNumberOfWarningSubops         = tag.Tag{Group: 0x0000, Element: 0x1023}
)

func isRequestCommand(field uint16) bool {
	return field&0x8000 == 0
}

// CommandSet holds the group-0x0000 elements of one DIMSE message. It is
// the wire shape shared by every C-ECHO/C-FIND/C-MOVE/C-GET/C-STORE
// request and response the core sends or receives.
type CommandSet struct {
	CommandField              uint16
	MessageID                 uint16
	MessageIDBeingRespondedTo uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	MoveDestination           string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16

	NumberOfRemaining *uint16
	NumberOfCompleted *uint16
	NumberOfFailed    *uint16
	NumberOfWarning   *uint16
}

// HasDataSet reports whether a data set PDV is expected to follow this
// command on the wire.
func (c *CommandSet) HasDataSet() bool {
	return c.CommandDataSetType != dataSetTypeNull
}

func (c *CommandSet) elements() ([]*dicom.Element, error) {
	var elems []*dicom.Element
	add := func(t tag.Tag, v interface{}) error {
		el, err := dicom.NewElement(t, v)
		if err != nil {
			return fmt.Errorf("command set element %s: %w", t.String(), err)
		}
		elems = append(elems, el)
		return nil
	}

	if c.AffectedSOPClassUID != "" {
		if err := add(tagAffectedSOPClassUID, []string{c.AffectedSOPClassUID}); err != nil {
			return nil, err
		}
	}
	if err := add(tagCommandField, []int{int(c.CommandField)}); err != nil {
		return nil, err
	}
	if isRequestCommand(c.CommandField) {
		if err := add(tagMessageID, []int{int(c.MessageID)}); err != nil {
			return nil, err
		}
	} else {
		if err := add(tagMessageIDBeingRespondedTo, []int{int(c.MessageIDBeingRespondedTo)}); err != nil {
			return nil, err
		}
	}
	if c.MoveDestination != "" {
		if err := add(tagMoveDestination, []string{c.MoveDestination}); err != nil {
			return nil, err
		}
	}
	if c.CommandField == CommandFieldCFindRQ || c.CommandField == CommandFieldCMoveRQ ||
		c.CommandField == CommandFieldCGetRQ || c.CommandField == CommandFieldCStoreRQ {
		if err := add(tagPriority, []int{int(c.Priority)}); err != nil {
			return nil, err
		}
	}
	if c.AffectedSOPInstanceUID != "" {
		if err := add(tagAffectedSOPInstanceUID, []string{c.AffectedSOPInstanceUID}); err != nil {
			return nil, err
		}
	}
	if err := add(tagCommandDataSetType, []int{int(c.CommandDataSetType)}); err != nil {
		return nil, err
	}
	if !isRequestCommand(c.CommandField) {
		if err := add(tagStatus, []int{int(c.Status)}); err != nil {
			return nil, err
		}
	}
	if c.NumberOfRemaining != nil {
		if err := add(tagNumberOfRemainingSubops, []int{int(*c.NumberOfRemaining)}); err != nil {
			return nil, err
		}
	}
	if c.NumberOfCompleted != nil {
		if err := add(tagNumberOfCompletedSubops, []int{int(*c.NumberOfCompleted)}); err != nil {
			return nil, err
		}
	}
	if c.NumberOfFailed != nil {
		if err := add(tagNumberOfFailedSubops, []int{int(*c.NumberOfFailed)}); err != nil {
			return nil, err
		}
	}
	if c.NumberOfWarning != nil {
		if err := add(tagNumberOfWarningSubops, []int{int(*c.NumberOfWarning)}); err != nil {
			return nil, err
		}
	}
	return elems, nil
}

// EncodeCommandSet writes c to w as a complete DIMSE command: a
// CommandGroupLength element followed by the rest of the group-0x0000
// elements, always Implicit VR Little Endian per PS3.7 6.3.1.
func EncodeCommandSet(w io.Writer, c *CommandSet) error {
	elems, err := c.elements()
	if err != nil {
		return fmt.Errorf("encode command set: %w", err)
	}

	var body bytes.Buffer
	bodyWriter, err := dicom.NewWriter(&body)
	if err != nil {
		return fmt.Errorf("encode command set: %w", err)
	}
	bodyWriter.SetTransferSyntax(binary.LittleEndian, true)
	for _, el := range elems {
		if err := bodyWriter.WriteElement(el); err != nil {
			return fmt.Errorf("encode command set: %w", err)
		}
	}

	out, err := dicom.NewWriter(w)
	if err != nil {
		return fmt.Errorf("encode command set: %w", err)
	}
	out.SetTransferSyntax(binary.LittleEndian, true)
	lengthElem, err := dicom.NewElement(tagCommandGroupLength, []int{body.Len()})
	if err != nil {
		return fmt.Errorf("encode command set: %w", err)
	}
	if err := out.WriteElement(lengthElem); err != nil {
		return fmt.Errorf("encode command set: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("encode command set: %w", err)
	}
	return nil
}

// DecodeCommandSet reads a complete DIMSE command set (Implicit VR Little
// Endian) from raw bytes already reassembled from P-DATA-TF fragments.
func DecodeCommandSet(raw []byte) (*CommandSet, error) {
	r := bytes.NewReader(raw)
	ds, err := dicom.Parse(r, int64(r.Len()), nil, dicom.SkipPixelData(), dicom.SkipMetadataReadOnNewParserInit())
	if err != nil {
		return nil, fmt.Errorf("decode command set: %w", err)
	}

	byTag := make(map[tag.Tag]*dicom.Element, len(ds.Elements))
	for _, el := range ds.Elements {
		byTag[el.Tag] = el
	}

	getInt := func(t tag.Tag) (int, bool) {
		el, ok := byTag[t]
		if !ok || el.Value == nil {
			return 0, false
		}
		v, ok := el.Value.GetValue().([]int)
		if !ok || len(v) == 0 {
			return 0, false
		}
		return v[0], true
	}
	getString := func(t tag.Tag) string {
		el, ok := byTag[t]
		if !ok || el.Value == nil {
			return ""
		}
		v, ok := el.Value.GetValue().([]string)
		if !ok || len(v) == 0 {
			return ""
		}
		return v[0]
	}
	getUint16Ptr := func(t tag.Tag) *uint16 {
		n, ok := getInt(t)
		if !ok {
			return nil
		}
		v := uint16(n)
		return &v
	}

	cs := &CommandSet{}
	if v, ok := getInt(tagCommandField); ok {
		cs.CommandField = uint16(v)
	}
	if isRequestCommand(cs.CommandField) {
		if v, ok := getInt(tagMessageID); ok {
			cs.MessageID = uint16(v)
		}
	} else {
		if v, ok := getInt(tagMessageIDBeingRespondedTo); ok {
			cs.MessageIDBeingRespondedTo = uint16(v)
		}
	}
	cs.AffectedSOPClassUID = getString(tagAffectedSOPClassUID)
	cs.AffectedSOPInstanceUID = getString(tagAffectedSOPInstanceUID)
	cs.MoveDestination = getString(tagMoveDestination)
	if v, ok := getInt(tagPriority); ok {
		cs.Priority = uint16(v)
	}
	if v, ok := getInt(tagCommandDataSetType); ok {
		cs.CommandDataSetType = uint16(v)
	} else {
		cs.CommandDataSetType = dataSetTypeNull
	}
	if v, ok := getInt(tagStatus); ok {
		cs.Status = uint16(v)
	}
	cs.NumberOfRemaining = getUint16Ptr(tagNumberOfRemainingSubops)
	cs.NumberOfCompleted = getUint16Ptr(tagNumberOfCompletedSubops)
	cs.NumberOfFailed = getUint16Ptr(tagNumberOfFailedSubops)
	cs.NumberOfWarning = getUint16Ptr(tagNumberOfWarningSubops)
	return cs, nil
}
