package dicomnet

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dicomrouter/retrieve-core/pkg/logger"
)

// Association owns one DICOM association lifecycle: propose presentation
// contexts, open, look up the accepted context per abstract syntax, close,
// and translate low-level protocol failures into the error taxonomy.
//
// Open is idempotent and Close is safe to call on an already-closed
// association, mirroring the pool-friendly connect/close shape the rest of
// this stack uses for its network clients.
type Association struct {
	params AssociationParameters

	mu        sync.Mutex
	conn      net.Conn
	opened    bool
	proposals []PresentationContextProposal

	// acceptedByAbstractSyntax maps an abstract syntax UID to the
	// negotiated presentation context id, once Open succeeds.
	acceptedByAbstractSyntax map[string]byte
	transferSyntaxByContext  map[byte]string

	maxPDULength uint32
	lastUsed     time.Time
}

const defaultMaxPDULength uint32 = 16384

// NewAssociation creates an unopened association for params. Proposals are
// accumulated with ProposeGeneric/ProposeStorage before calling Open.
func NewAssociation(params AssociationParameters) *Association {
	return &Association{
		params:       params,
		maxPDULength: defaultMaxPDULength,
	}
}

// ProposeGeneric registers a proposal using the implementation's default
// transfer-syntax list for control operations (Implicit and Explicit VR
// Little Endian). Must be called before Open.
func (a *Association) ProposeGeneric(abstractSyntaxUID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.proposals = append(a.proposals, PresentationContextProposal{
		AbstractSyntaxUID: abstractSyntaxUID,
		TransferSyntaxes:  append([]string(nil), defaultControlTransferSyntaxes...),
		Role:              RoleSCU,
	})
}

// ProposeStorage registers a storage-class proposal with an explicit
// ordered transfer-syntax list and an SCU/SCP role. Must be called before
// Open.
func (a *Association) ProposeStorage(abstractSyntaxUID string, transferSyntaxes []string, role Role) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.proposals = append(a.proposals, PresentationContextProposal{
		AbstractSyntaxUID: abstractSyntaxUID,
		TransferSyntaxes:  append([]string(nil), transferSyntaxes...),
		Role:              role,
	})
}

// Open opens an association to the peer with the accumulated proposals.
// Idempotent: calling Open again on an already-open association is a
// no-op. Fails with KindNetworkProtocol on handshake failure and
// KindNoPresentationContext if nothing was accepted.
func (a *Association) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.opened {
		return nil
	}
	if len(a.proposals) == 0 {
		return newError(KindNoPresentationContext, "open", fmt.Errorf("no presentation contexts proposed"))
	}

	timeout := a.params.timeoutOrDefault()
	addr := fmt.Sprintf("%s:%d", a.params.RemoteHost, a.params.RemotePort)
	dialer := &net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return wireError(KindNetworkProtocol, "open", a.params.RemoteAET, 0, fmt.Errorf("dial %s: %w", addr, err))
	}
	a.conn = conn

	if err := a.handshake(timeout); err != nil {
		conn.Close()
		a.conn = nil
		return err
	}

	if len(a.acceptedByAbstractSyntax) == 0 {
		a.sendReleaseLocked(timeout)
		conn.Close()
		a.conn = nil
		return newError(KindNoPresentationContext, "open", fmt.Errorf("peer accepted no presentation context"))
	}

	a.opened = true
	a.lastUsed = time.Now()
	logger.Get().Debug().
		Str("remote_aet", a.params.RemoteAET).
		Str("local_aet", a.params.LocalAET).
		Int("accepted_contexts", len(a.acceptedByAbstractSyntax)).
		Msg("association opened")
	return nil
}

func (a *Association) handshake(timeout time.Duration) error {
	if err := a.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return wireError(KindNetworkProtocol, "open", a.params.RemoteAET, 0, err)
	}

	rq := buildAssociateRQ(a.params.LocalAET, a.params.RemoteAET, a.maxPDULength, a.proposals)
	if _, err := a.conn.Write(rq); err != nil {
		return wireError(KindNetworkProtocol, "open", a.params.RemoteAET, 0, fmt.Errorf("send A-ASSOCIATE-RQ: %w", err))
	}

	pduType, length, err := readPDUHeader(a.conn)
	if err != nil {
		return wireError(KindNetworkProtocol, "open", a.params.RemoteAET, 0, fmt.Errorf("read association response: %w", err))
	}
	body := make([]byte, length)
	if _, err := readFull(a.conn, body); err != nil {
		return wireError(KindNetworkProtocol, "open", a.params.RemoteAET, 0, fmt.Errorf("read association response body: %w", err))
	}

	switch pduType {
	case pduTypeAssociateRJ:
		return wireError(KindNetworkProtocol, "open", a.params.RemoteAET, 0, fmt.Errorf("association rejected by peer"))
	case pduTypeAssociateAC:
		// fallthrough to parse below
	default:
		return wireError(KindNetworkProtocol, "open", a.params.RemoteAET, 0, fmt.Errorf("unexpected PDU type 0x%02x", pduType))
	}

	accepted, err := parseAssociateAC(body)
	if err != nil {
		return wireError(KindNetworkProtocol, "open", a.params.RemoteAET, 0, err)
	}

	a.acceptedByAbstractSyntax = make(map[string]byte, len(accepted))
	a.transferSyntaxByContext = make(map[byte]string, len(accepted))
	for _, result := range accepted {
		if !result.accepted {
			continue
		}
		proposalIdx := int(result.id-1) / 2
		if proposalIdx < 0 || proposalIdx >= len(a.proposals) {
			continue
		}
		abstractSyntax := a.proposals[proposalIdx].AbstractSyntaxUID
		a.acceptedByAbstractSyntax[abstractSyntax] = result.id
		a.transferSyntaxByContext[result.id] = result.transferSyntax
	}
	return nil
}

// AcceptedContextID returns the peer-accepted context id for abstractSyntaxUID,
// or ok=false if it was never proposed or never accepted.
func (a *Association) AcceptedContextID(abstractSyntaxUID string) (byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.acceptedByAbstractSyntax[abstractSyntaxUID]
	return id, ok
}

// Close releases and clears the channel. Safe to call on a closed or
// never-opened association.
func (a *Association) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.opened || a.conn == nil {
		return nil
	}
	a.sendReleaseLocked(a.params.timeoutOrDefault())
	err := a.conn.Close()
	a.conn = nil
	a.opened = false
	return err
}

func (a *Association) sendReleaseLocked(timeout time.Duration) {
	if a.conn == nil {
		return
	}
	a.conn.SetDeadline(time.Now().Add(timeout))
	if _, err := a.conn.Write(buildReleaseRQ()); err != nil {
		logger.Get().Warn().Err(err).Msg("failed to send A-RELEASE-RQ")
		return
	}
	// Best-effort: read and discard A-RELEASE-RP, ignore errors since the
	// connection is going away regardless.
	readPDUHeader(a.conn)
}

// IsOpen reports whether the association currently holds a live channel.
func (a *Association) IsOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opened
}

// Check maps a DIMSE status into the error taxonomy, preserving the remote
// AET. It returns an error for every status it is given, StatusSuccess
// included: callers rule out StatusSuccess (and, for C-FIND/C-MOVE, the
// accepted pending codes) themselves and only call Check once they know
// the exchange needs to fail.
func (a *Association) Check(op string, status uint16) error {
	if status == StatusFindUnableToProcess {
		return wireError(KindNetworkProtocol, op, a.params.RemoteAET, status, fmt.Errorf("unable to process"))
	}
	return wireError(KindNetworkProtocol, op, a.params.RemoteAET, status, fmt.Errorf("non-zero DIMSE status"))
}

// sendCommand sends a DIMSE command set (and optional dataset bytes) on
// contextID.
func (a *Association) sendCommand(contextID byte, cs *CommandSet, dataset []byte) error {
	a.conn.SetWriteDeadline(time.Now().Add(a.params.timeoutOrDefault()))

	var commandBytes bytes.Buffer
	if err := EncodeCommandSet(&commandBytes, cs); err != nil {
		return fmt.Errorf("encode DIMSE command: %w", err)
	}
	if err := writePDataTF(a.conn, contextID, commandBytes.Bytes(), true, a.maxPDULength); err != nil {
		return fmt.Errorf("send DIMSE command: %w", err)
	}
	if len(dataset) > 0 {
		if err := writePDataTF(a.conn, contextID, dataset, false, a.maxPDULength); err != nil {
			return fmt.Errorf("send DIMSE dataset: %w", err)
		}
	}
	return nil
}

// receivedMessage is one fully reassembled DIMSE command plus its optional
// dataset body, read off the association.
type receivedMessage struct {
	contextID byte
	command   *CommandSet
	dataset   []byte
}

// receiveMessage blocks until one full DIMSE command (and its dataset, if
// any) has been reassembled from incoming P-DATA-TF PDUs.
func (a *Association) receiveMessage(readTimeout time.Duration) (*receivedMessage, error) {
	var commandBytes, datasetBytes []byte
	var contextID byte
	commandDone, datasetDone := false, false
	var cmd *CommandSet

	for {
		if readTimeout > 0 {
			a.conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
		frags, err := readPDataTF(a.conn)
		if err != nil {
			return nil, fmt.Errorf("receive DIMSE message: %w", err)
		}
		for _, f := range frags {
			contextID = f.contextID
			if f.isCommand {
				commandBytes = append(commandBytes, f.data...)
				if f.isLast {
					cmd, err = DecodeCommandSet(commandBytes)
					if err != nil {
						return nil, fmt.Errorf("decode DIMSE command: %w", err)
					}
					commandDone = true
				}
			} else {
				datasetBytes = append(datasetBytes, f.data...)
				if f.isLast {
					datasetDone = true
				}
			}
		}
		if !commandDone {
			continue
		}
		if cmd.HasDataSet() && !datasetDone {
			continue
		}
		break
	}

	return &receivedMessage{contextID: contextID, command: cmd, dataset: datasetBytes}, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
