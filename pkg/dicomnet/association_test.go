package dicomnet

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

func buildAssociateACBodyForTest(acceptedContextID byte, transferSyntax string) []byte {
	body := make([]byte, 68)
	var presentationResult []byte
	presentationResult = append(presentationResult, acceptedContextID, 0, 0, 0)
	presentationResult = appendItem(presentationResult, itemTypeTransferSyntax, []byte(transferSyntax))
	body = appendItem(body, itemTypePresentationResult, presentationResult)
	return body
}

func writeTestPDU(w io.Writer, pduType byte, body []byte) error {
	pdu := make([]byte, 6, 6+len(body))
	pdu[0] = pduType
	binary.BigEndian.PutUint32(pdu[2:6], uint32(len(body)))
	pdu = append(pdu, body...)
	_, err := w.Write(pdu)
	return err
}

func TestAssociationHandshakeAcceptsProposedContext(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	a := NewAssociation(AssociationParameters{LocalAET: "US", RemoteAET: "THEM"})
	a.ProposeGeneric(SOPClassVerification)
	a.conn = client

	errCh := make(chan error, 1)
	go func() { errCh <- a.handshake(2 * time.Second) }()

	pduType, length, err := readPDUHeader(server)
	if err != nil {
		t.Fatalf("read A-ASSOCIATE-RQ header: %v", err)
	}
	if pduType != pduTypeAssociateRQ {
		t.Fatalf("pdu type = %#x, want A-ASSOCIATE-RQ", pduType)
	}
	rqBody := make([]byte, length)
	if _, err := io.ReadFull(server, rqBody); err != nil {
		t.Fatalf("read A-ASSOCIATE-RQ body: %v", err)
	}

	acBody := buildAssociateACBodyForTest(1, TransferSyntaxImplicitVRLittleEndian)
	if err := writeTestPDU(server, pduTypeAssociateAC, acBody); err != nil {
		t.Fatalf("write A-ASSOCIATE-AC: %v", err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("handshake: %v", err)
	}

	id, ok := a.AcceptedContextID(SOPClassVerification)
	if !ok || id != 1 {
		t.Fatalf("AcceptedContextID = (%d, %v), want (1, true)", id, ok)
	}
}

func TestAssociationHandshakeFailsOnAssociateRJ(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	a := NewAssociation(AssociationParameters{LocalAET: "US", RemoteAET: "THEM"})
	a.ProposeGeneric(SOPClassVerification)
	a.conn = client

	errCh := make(chan error, 1)
	go func() { errCh <- a.handshake(2 * time.Second) }()

	if _, length, err := readPDUHeader(server); err == nil {
		io.ReadFull(server, make([]byte, length))
	}
	writeTestPDU(server, pduTypeAssociateRJ, []byte{0, 0, 1, 1})

	err := <-errCh
	if err == nil {
		t.Fatal("expected handshake error on A-ASSOCIATE-RJ")
	}
}

func TestAssociationSendReceiveCommandRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sender := &Association{conn: client, maxPDULength: defaultMaxPDULength, params: AssociationParameters{RemoteAET: "THEM"}}
	receiver := &Association{conn: server, maxPDULength: defaultMaxPDULength, params: AssociationParameters{RemoteAET: "US"}}

	cs := &CommandSet{
		CommandField:           CommandFieldCEchoRQ,
		MessageID:              7,
		AffectedSOPClassUID:    SOPClassVerification,
		CommandDataSetType:     dataSetTypeNull,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- sender.sendCommand(1, cs, nil) }()

	msg, err := receiver.receiveMessage(2 * time.Second)
	if err != nil {
		t.Fatalf("receiveMessage: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("sendCommand: %v", err)
	}

	if msg.contextID != 1 {
		t.Fatalf("contextID = %d, want 1", msg.contextID)
	}
	if msg.command.CommandField != CommandFieldCEchoRQ {
		t.Fatalf("CommandField = %#x, want C-ECHO-RQ", msg.command.CommandField)
	}
	if msg.command.MessageID != 7 {
		t.Fatalf("MessageID = %d, want 7", msg.command.MessageID)
	}
	if len(msg.dataset) != 0 {
		t.Fatalf("dataset = %v, want empty for C-ECHO", msg.dataset)
	}
}

func TestAssociationSendReceiveCommandWithDataset(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sender := &Association{conn: client, maxPDULength: defaultMaxPDULength, params: AssociationParameters{RemoteAET: "THEM"}}
	receiver := &Association{conn: server, maxPDULength: defaultMaxPDULength, params: AssociationParameters{RemoteAET: "US"}}

	cs := &CommandSet{
		CommandField:           CommandFieldCFindRQ,
		MessageID:              11,
		AffectedSOPClassUID:    SOPClassStudyRootFind,
		CommandDataSetType:     1,
	}
	dataset := []byte("fake identifier bytes")

	errCh := make(chan error, 1)
	go func() { errCh <- sender.sendCommand(1, cs, dataset) }()

	msg, err := receiver.receiveMessage(2 * time.Second)
	if err != nil {
		t.Fatalf("receiveMessage: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("sendCommand: %v", err)
	}

	if string(msg.dataset) != string(dataset) {
		t.Fatalf("dataset = %q, want %q", msg.dataset, dataset)
	}
}

func TestAssociationCloseIsIdempotentOnUnopened(t *testing.T) {
	a := NewAssociation(AssociationParameters{LocalAET: "US", RemoteAET: "THEM"})
	if err := a.Close(); err != nil {
		t.Fatalf("Close on never-opened association: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestAssociationOpenFailsWithNoProposals(t *testing.T) {
	a := NewAssociation(AssociationParameters{LocalAET: "US", RemoteAET: "THEM", RemoteHost: "127.0.0.1", RemotePort: 1})
	err := a.Open(nil)
	if err == nil {
		t.Fatal("expected error opening with no proposals")
	}
}
