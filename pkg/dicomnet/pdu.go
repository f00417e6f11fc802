package dicomnet

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Upper-layer PDU types, DICOM PS3.8 Table 9-1 to 9-10.
const (
	pduTypeAssociateRQ byte = 0x01
	pduTypeAssociateAC byte = 0x02
	pduTypeAssociateRJ byte = 0x03
	pduTypePDataTF     byte = 0x04
	pduTypeReleaseRQ   byte = 0x05
	pduTypeReleaseRP   byte = 0x06
	pduTypeAbort       byte = 0x07
)

const (
	itemTypeApplicationContext  byte = 0x10
	itemTypePresentationContext byte = 0x20
	itemTypePresentationResult  byte = 0x21
	itemTypeAbstractSyntax      byte = 0x30
	itemTypeTransferSyntax      byte = 0x40
	itemTypeUserInformation     byte = 0x50
	itemTypeMaxLength           byte = 0x51
	itemTypeImplClassUID        byte = 0x52
	itemTypeImplVersionName     byte = 0x55
)

// writePDUHeader writes a 6-byte upper-layer PDU header: type, reserved, length.
func writePDUHeader(w io.Writer, pduType byte, length uint32) error {
	header := make([]byte, 6)
	header[0] = pduType
	binary.BigEndian.PutUint32(header[2:6], length)
	_, err := w.Write(header)
	return err
}

func readPDUHeader(r io.Reader) (pduType byte, length uint32, err error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, 0, err
	}
	return header[0], binary.BigEndian.Uint32(header[2:6]), nil
}

func padAET(aet string) []byte {
	out := make([]byte, 16)
	copy(out, aet)
	for i := len(aet); i < 16; i++ {
		out[i] = ' '
	}
	return out
}

func appendItem(buf []byte, itemType byte, value []byte) []byte {
	buf = append(buf, itemType, 0x00)
	buf = append(buf, byte(len(value)>>8), byte(len(value)))
	return append(buf, value...)
}

// buildAssociateRQ assembles the full A-ASSOCIATE-RQ PDU for the given
// proposals, in presentation-context-id order (odd ids starting at 1, per
// PS3.8 9.3.2.2).
func buildAssociateRQ(callingAET, calledAET string, maxPDULength uint32, proposals []PresentationContextProposal) []byte {
	var body []byte
	body = append(body, 0x00, 0x01) // protocol version
	body = append(body, 0x00, 0x00) // reserved
	body = append(body, padAET(calledAET)...)
	body = append(body, padAET(callingAET)...)
	body = append(body, make([]byte, 32)...) // reserved

	body = appendItem(body, itemTypeApplicationContext, []byte(applicationContextName))

	for i, p := range proposals {
		contextID := byte(1 + 2*i)
		body = append(body, buildPresentationContextRQ(contextID, p)...)
	}

	body = append(body, buildUserInformation(maxPDULength)...)

	pdu := make([]byte, 0, 6+len(body))
	pdu = append(pdu, pduTypeAssociateRQ, 0x00, 0, 0, 0, 0)
	binary.BigEndian.PutUint32(pdu[2:6], uint32(len(body)))
	return append(pdu, body...)
}

func buildPresentationContextRQ(contextID byte, p PresentationContextProposal) []byte {
	var item []byte
	item = append(item, contextID, 0x00, 0x00, 0x00) // id + 3 reserved bytes
	item = appendItem(item, itemTypeAbstractSyntax, []byte(p.AbstractSyntaxUID))
	for _, ts := range p.TransferSyntaxes {
		item = appendItem(item, itemTypeTransferSyntax, []byte(ts))
	}
	return appendItem(nil, itemTypePresentationContext, item)
}

func buildUserInformation(maxPDULength uint32) []byte {
	maxLenValue := make([]byte, 4)
	binary.BigEndian.PutUint32(maxLenValue, maxPDULength)

	var item []byte
	item = appendItem(item, itemTypeMaxLength, maxLenValue)
	item = appendItem(item, itemTypeImplClassUID, []byte(implementationClassUID))
	item = appendItem(item, itemTypeImplVersionName, []byte(implementationVersion))
	return appendItem(nil, itemTypeUserInformation, item)
}

// acceptedContext is one negotiated presentation context from an
// A-ASSOCIATE-AC, keyed by context id.
type acceptedContext struct {
	id             byte
	accepted       bool
	transferSyntax string
}

// parseAssociateAC parses the presentation-context-result items out of an
// A-ASSOCIATE-AC body. The caller maps context ids back to abstract syntax
// UIDs using the proposal order it sent.
func parseAssociateAC(data []byte) ([]acceptedContext, error) {
	const fixedFieldsLength = 68 // protocol version/reserved/called/calling/reserved
	if len(data) < fixedFieldsLength {
		return nil, fmt.Errorf("A-ASSOCIATE-AC too short: %d bytes", len(data))
	}

	var results []acceptedContext
	offset := fixedFieldsLength
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		itemEnd := offset + 4 + itemLength
		if itemEnd > len(data) {
			break
		}

		if itemType == itemTypePresentationResult {
			body := data[offset+4 : itemEnd]
			if len(body) < 4 {
				offset = itemEnd
				continue
			}
			contextID := body[0]
			result := body[2]
			ts := parseTransferSyntaxSubItem(body[4:])
			results = append(results, acceptedContext{
				id:             contextID,
				accepted:       result == 0,
				transferSyntax: ts,
			})
		}
		offset = itemEnd
	}
	return results, nil
}

func parseTransferSyntaxSubItem(data []byte) string {
	offset := 0
	for offset+4 <= len(data) {
		itemType := data[offset]
		itemLength := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		itemEnd := offset + 4 + itemLength
		if itemEnd > len(data) {
			break
		}
		if itemType == itemTypeTransferSyntax {
			return strings.TrimRight(string(data[offset+4:itemEnd]), "\x00 ")
		}
		offset = itemEnd
	}
	return ""
}

// PDV message-control-header bits, PS3.8 9.3.1.1.
const (
	pdvHeaderDataset  byte = 0x00
	pdvHeaderCommand  byte = 0x01
	pdvHeaderLastFlag byte = 0x02
)

// writePDataTF writes value as a sequence of P-DATA-TF PDUs, each carrying
// one presentation-data-value item, fragmenting to fit maxPDULength.
func writePDataTF(w io.Writer, contextID byte, value []byte, isCommand bool, maxPDULength uint32) error {
	if maxPDULength == 0 {
		maxPDULength = 16384
	}
	// Reserve room for PDU header(6) + PDV length(4) + context id(1) + control header(1).
	chunkSize := int(maxPDULength) - 12
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	if len(value) == 0 {
		value = []byte{}
	}

	for offset := 0; ; {
		end := offset + chunkSize
		last := false
		if end >= len(value) {
			end = len(value)
			last = true
		}
		fragment := value[offset:end]

		control := pdvHeaderDataset
		if isCommand {
			control |= pdvHeaderCommand
		}
		if last {
			control |= pdvHeaderLastFlag
		}

		pdvLength := uint32(2 + len(fragment)) // context id + control header + data
		var pdu []byte
		pdu = append(pdu, pduTypePDataTF, 0x00, 0, 0, 0, 0)
		pdvBody := make([]byte, 0, 4+pdvLength)
		pdvBody = append(pdvBody, 0, 0, 0, 0)
		binary.BigEndian.PutUint32(pdvBody[0:4], pdvLength)
		pdvBody = append(pdvBody, contextID, control)
		pdvBody = append(pdvBody, fragment...)
		binary.BigEndian.PutUint32(pdu[2:6], uint32(len(pdvBody)))
		pdu = append(pdu, pdvBody...)

		if _, err := w.Write(pdu); err != nil {
			return err
		}
		if last {
			return nil
		}
		offset = end
	}
}

type pdvFragment struct {
	contextID byte
	isCommand bool
	isLast    bool
	data      []byte
}

// readPDataTF reads one P-DATA-TF PDU and returns its presentation-data-value
// items (almost always exactly one in practice, but the wire format allows
// several).
func readPDataTF(r io.Reader) ([]pdvFragment, error) {
	pduType, length, err := readPDUHeader(r)
	if err != nil {
		return nil, err
	}
	if pduType != pduTypePDataTF {
		return nil, fmt.Errorf("expected P-DATA-TF (0x04), got 0x%02x", pduType)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	var frags []pdvFragment
	offset := 0
	for offset+4 <= len(body) {
		pdvLength := binary.BigEndian.Uint32(body[offset : offset+4])
		itemEnd := offset + 4 + int(pdvLength)
		if itemEnd > len(body) || pdvLength < 2 {
			break
		}
		contextID := body[offset+4]
		control := body[offset+5]
		data := body[offset+6 : itemEnd]
		frags = append(frags, pdvFragment{
			contextID: contextID,
			isCommand: control&pdvHeaderCommand != 0,
			isLast:    control&pdvHeaderLastFlag != 0,
			data:      append([]byte(nil), data...),
		})
		offset = itemEnd
	}
	return frags, nil
}

func buildReleaseRQ() []byte {
	pdu := make([]byte, 10)
	pdu[0] = pduTypeReleaseRQ
	binary.BigEndian.PutUint32(pdu[2:6], 4)
	return pdu
}

func buildReleaseRP() []byte {
	pdu := make([]byte, 10)
	pdu[0] = pduTypeReleaseRP
	binary.BigEndian.PutUint32(pdu[2:6], 4)
	return pdu
}
