package dicomnet

import (
	"bytes"
	"context"
	"fmt"

	"github.com/suyashkumar/dicom"

	"github.com/dicomrouter/retrieve-core/pkg/logger"
	"github.com/dicomrouter/retrieve-core/pkg/query"
)

// InstanceReceivedFunc handles one dataset pushed by the peer inside a
// C-Get sub-session's inbound C-STORE-RQ. It returns the DIMSE status to
// answer the C-STORE with: StatusSuccess on success, or a failure status
// (commonly StatusStoreCannotUnderstand) to report back without tearing
// down the sub-session.
type InstanceReceivedFunc func(ctx context.Context, ds *dicom.Dataset, remoteAET, remoteIP, calledAET string) uint16

// GetProgress mirrors the sub-operation counters carried on each
// C-GET-RSP: how many instances remain, completed, failed or warned.
type GetProgress struct {
	Remaining uint16
	Completed uint16
	Failed    uint16
	Warning   uint16
}

func progressFromCommand(c *CommandSet) GetProgress {
	p := GetProgress{}
	if c.NumberOfRemaining != nil {
		p.Remaining = *c.NumberOfRemaining
	}
	if c.NumberOfCompleted != nil {
		p.Completed = *c.NumberOfCompleted
	}
	if c.NumberOfFailed != nil {
		p.Failed = *c.NumberOfFailed
	}
	if c.NumberOfWarning != nil {
		p.Warning = *c.NumberOfWarning
	}
	return p
}

// cgetState names one state in the C-Get sub-session state machine: a
// single outbound C-GET interleaved with zero or more inbound C-STORE
// requests on the same association, until a final (non-pending) C-GET-RSP
// arrives.
//
//	IDLE -> REQUEST_SENT -> AWAITING_MESSAGE -> (HANDLE_GET_RSP | HANDLE_STORE_RQ | ERROR)
//	                              ^                         |
//	                              +-------------------------+
//	                        -> DONE (final C-GET-RSP with Status==Success)
type cgetState int

const (
	cgetIdle cgetState = iota
	cgetRequestSent
	cgetAwaitingMessage
	cgetDone
	cgetError
)

// runCGet drives one C-Get sub-session to completion on contextID.
func runCGet(
	ctx context.Context,
	assoc *Association,
	contextID byte,
	sopClassUID string,
	messageID uint16,
	identifier *query.Query,
	onInstance InstanceReceivedFunc,
	onProgress func(GetProgress),
	localAET, remoteAET, remoteHost string,
) error {
	state := cgetIdle
	log := logger.Component("dicomnet.cget")

	identifierBytes, err := encodeIdentifier(identifier)
	if err != nil {
		return newError(KindBadRequest, "get", fmt.Errorf("encode C-GET identifier: %w", err))
	}

	rq := &CommandSet{
		CommandField:        CommandFieldCGetRQ,
		MessageID:           messageID,
		AffectedSOPClassUID: sopClassUID,
		Priority:            0,
		CommandDataSetType:  0x0001,
	}
	if err := assoc.sendCommand(contextID, rq, identifierBytes); err != nil {
		state = cgetError
		return wireError(KindNetworkProtocol, "get", remoteAET, 0, err)
	}
	state = cgetRequestSent

	for {
		state = cgetAwaitingMessage
		msg, err := assoc.receiveMessage(assoc.params.timeoutOrDefault())
		if err != nil {
			state = cgetError
			return wireError(KindNetworkProtocol, "get", remoteAET, 0, err)
		}

		switch msg.command.CommandField {
		case CommandFieldCStoreRQ:
			status := handleInboundCStore(ctx, msg, onInstance, localAET, remoteAET, remoteHost)
			rsp := &CommandSet{
				CommandField:              CommandFieldCStoreRSP,
				MessageIDBeingRespondedTo: msg.command.MessageID,
				AffectedSOPClassUID:       msg.command.AffectedSOPClassUID,
				AffectedSOPInstanceUID:    msg.command.AffectedSOPInstanceUID,
				CommandDataSetType:        dataSetTypeNull,
				Status:                    status,
			}
			if err := assoc.sendCommand(msg.contextID, rsp, nil); err != nil {
				state = cgetError
				return wireError(KindNetworkProtocol, "get", remoteAET, 0, err)
			}

		case CommandFieldCGetRSP:
			progress := progressFromCommand(msg.command)
			if onProgress != nil {
				onProgress(progress)
			}
			switch msg.command.Status {
			case StatusSuccess:
				state = cgetDone
				log.Debug().Uint16("message_id", messageID).Msg("C-GET complete")
				return nil
			case StatusPending:
				// 0xFF01 is a C-FIND-only pending code (more matches follow
				// at this level); C-GET never sends it.
				continue
			default:
				state = cgetError
				return wireError(KindNetworkProtocol, "get", remoteAET, msg.command.Status, fmt.Errorf("C-GET failed"))
			}

		default:
			state = cgetError
			return wireError(KindNetworkProtocol, "get", remoteAET, 0,
				fmt.Errorf("unexpected command field 0x%04x during C-GET", msg.command.CommandField))
		}
	}
}

// handleInboundCStore decodes the dataset carried by a C-STORE-RQ received
// mid-C-GET and hands it to onInstance, translating a decode failure into
// STATUS_STORE_Error_CannotUnderstand rather than aborting the sub-session.
func handleInboundCStore(ctx context.Context, msg *receivedMessage, onInstance InstanceReceivedFunc, localAET, remoteAET, remoteIP string) uint16 {
	ds, err := decodeDataset(msg.dataset)
	if err != nil {
		logger.Component("dicomnet.cget").Warn().Err(err).Msg("failed to decode inbound C-STORE dataset")
		return StatusStoreCannotUnderstand
	}
	if onInstance == nil {
		return StatusStoreCannotUnderstand
	}
	return onInstance(ctx, ds, remoteAET, remoteIP, localAET)
}

func decodeDataset(raw []byte) (*dicom.Dataset, error) {
	r := bytes.NewReader(raw)
	ds, err := dicom.Parse(r, int64(r.Len()), nil, dicom.SkipMetadataReadOnNewParserInit())
	if err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return &ds, nil
}
