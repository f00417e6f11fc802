package dicomnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/dicomrouter/retrieve-core/pkg/logger"
	"github.com/dicomrouter/retrieve-core/pkg/query"
)

// GetConfig declares the storage SOP classes and transfer syntaxes a
// ControlConnection must be able to receive mid-C-GET. Get fails with
// KindBadSequenceOfCalls if the connection was never configured with one.
type GetConfig struct {
	StorageSOPClasses []string
	TransferSyntaxes  []string
}

// ControlConnectionConfig is the construction-time bitset of operations a
// ControlConnection intends to perform. Every presentation context it will
// ever need is proposed from this config before Open, since DICOM
// negotiates contexts once per association.
type ControlConnectionConfig struct {
	Echo        bool
	FindLevels  []QueryRetrieveLevel
	Worklist    bool
	MoveLevels  []QueryRetrieveLevel
	Get         *GetConfig
	GetLevels   []QueryRetrieveLevel
}

// ControlConnection is the single entry point for Echo/Find/Move/Get
// against one peer, built on top of the lower-level Association.
type ControlConnection struct {
	assoc        *Association
	manufacturer ManufacturerProfile
	cfg          ControlConnectionConfig

	mu            sync.Mutex
	nextMessageID uint16
}

// NewControlConnection builds an unopened connection with every
// presentation context cfg requires already proposed.
func NewControlConnection(params AssociationParameters, cfg ControlConnectionConfig) *ControlConnection {
	assoc := NewAssociation(params)
	cc := &ControlConnection{
		assoc:         assoc,
		manufacturer:  params.Manufacturer,
		cfg:           cfg,
		nextMessageID: 1,
	}

	if cfg.Echo {
		assoc.ProposeGeneric(SOPClassVerification)
	}
	for _, lvl := range cfg.FindLevels {
		assoc.ProposeGeneric(sopClassForFind(lvl, false))
	}
	if cfg.Worklist {
		assoc.ProposeGeneric(SOPClassModalityWorklistFind)
	}
	if len(cfg.MoveLevels) > 0 {
		// C-Move always goes out on the Study-Root MOVE model regardless of
		// level, mirroring the original connector.
		assoc.ProposeGeneric(SOPClassStudyRootMove)
	}
	for _, lvl := range cfg.GetLevels {
		assoc.ProposeGeneric(sopClassForGet(lvl))
	}
	if cfg.Get != nil {
		for _, sopClass := range cfg.Get.StorageSOPClasses {
			assoc.ProposeStorage(sopClass, cfg.Get.TransferSyntaxes, RoleSCP)
		}
	}
	return cc
}

// Open opens the underlying association.
func (cc *ControlConnection) Open(ctx context.Context) error {
	return cc.assoc.Open(ctx)
}

// Close closes the underlying association.
func (cc *ControlConnection) Close() error {
	return cc.assoc.Close()
}

func (cc *ControlConnection) allocateMessageID() uint16 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	id := cc.nextMessageID
	cc.nextMessageID++
	if cc.nextMessageID == 0 {
		cc.nextMessageID = 1
	}
	return id
}

// Echo issues a C-ECHO and returns nil on StatusSuccess.
func (cc *ControlConnection) Echo(ctx context.Context) error {
	contextID, ok := cc.assoc.AcceptedContextID(SOPClassVerification)
	if !ok {
		return newError(KindFeatureUnavailable, "echo", fmt.Errorf("verification presentation context not accepted"))
	}

	messageID := cc.allocateMessageID()
	rq := &CommandSet{
		CommandField:        CommandFieldCEchoRQ,
		MessageID:           messageID,
		AffectedSOPClassUID: SOPClassVerification,
		CommandDataSetType:  dataSetTypeNull,
	}
	if err := cc.assoc.sendCommand(contextID, rq, nil); err != nil {
		return wireError(KindNetworkProtocol, "echo", cc.assoc.params.RemoteAET, 0, err)
	}

	msg, err := cc.assoc.receiveMessage(cc.assoc.params.timeoutOrDefault())
	if err != nil {
		return wireError(KindNetworkProtocol, "echo", cc.assoc.params.RemoteAET, 0, err)
	}
	if msg.command.Status != StatusSuccess {
		return cc.assoc.Check("echo", msg.command.Status)
	}
	return nil
}

// Find issues one C-FIND, normalizing the identifier first when normalize
// is true, and returns every answer the peer sent before the final
// (non-pending) C-FIND-RSP.
func (cc *ControlConnection) Find(ctx context.Context, level QueryRetrieveLevel, identifier *query.Query, normalize bool) (*query.QueryAnswers, error) {
	worklist := cc.cfg.Worklist
	sopClass := sopClassForFind(level, worklist)
	contextID, ok := cc.assoc.AcceptedContextID(sopClass)
	if !ok {
		return nil, newError(KindFeatureUnavailable, "find", fmt.Errorf("no accepted presentation context for %s", sopClass))
	}

	q := identifier
	if normalize {
		q = identifier.Clone()
		q.Set(tag.QueryRetrieveLevel, level.String())
		if dropped := normalizeForLevel(q, level); len(dropped) > 0 {
			logger.Component("dicomnet.find").Warn().Int("dropped_tags", len(dropped)).Msg("normalized identifier dropped out-of-level tags")
		}
		applyManufacturerQuirks(q, cc.manufacturer)
		ensureIdentifierFields(q, level, cc.manufacturer)
	}

	identifierBytes, err := encodeIdentifier(q)
	if err != nil {
		return nil, newError(KindBadRequest, "find", fmt.Errorf("encode C-FIND identifier: %w", err))
	}

	messageID := cc.allocateMessageID()
	rq := &CommandSet{
		CommandField:        CommandFieldCFindRQ,
		MessageID:           messageID,
		AffectedSOPClassUID: sopClass,
		CommandDataSetType:  0x0001,
	}
	if err := cc.assoc.sendCommand(contextID, rq, identifierBytes); err != nil {
		return nil, wireError(KindNetworkProtocol, "find", cc.assoc.params.RemoteAET, 0, err)
	}

	answers := query.NewQueryAnswers(worklist)
	for {
		msg, err := cc.assoc.receiveMessage(cc.assoc.params.timeoutOrDefault())
		if err != nil {
			return nil, wireError(KindNetworkProtocol, "find", cc.assoc.params.RemoteAET, 0, err)
		}
		if msg.command.CommandField != CommandFieldCFindRSP {
			return nil, wireError(KindNetworkProtocol, "find", cc.assoc.params.RemoteAET, 0,
				fmt.Errorf("unexpected command field 0x%04x during C-FIND", msg.command.CommandField))
		}

		switch msg.command.Status {
		case StatusPending, StatusPendingMoreMatches:
			if len(msg.dataset) > 0 {
				answer, err := decodeAnswer(msg.dataset, worklist)
				if err != nil {
					return nil, newError(KindBadFileFormat, "find", fmt.Errorf("decode C-FIND answer: %w", err))
				}
				answers.Append(answer)
			}
		case StatusSuccess:
			return answers, nil
		default:
			return nil, cc.assoc.Check("find", msg.command.Status)
		}
	}
}

// Move issues a C-MOVE to targetAET and blocks until the final C-MOVE-RSP,
// returning the terminal sub-operation counters. The actual instance
// transfer happens on a separate association between the peer and
// targetAET; this connection only observes the counters.
func (cc *ControlConnection) Move(ctx context.Context, targetAET string, level QueryRetrieveLevel, identifier *query.Query) (GetProgress, error) {
	// C-Move always goes out on the Study-Root MOVE model, regardless of
	// level, mirroring the original connector.
	sopClass := SOPClassStudyRootMove
	contextID, ok := cc.assoc.AcceptedContextID(sopClass)
	if !ok {
		return GetProgress{}, newError(KindFeatureUnavailable, "move", fmt.Errorf("no accepted presentation context for %s", sopClass))
	}
	mandatory := mandatoryMoveTags(level)
	if missing := firstMissingTag(identifier, mandatory); missing != "" {
		return GetProgress{}, newError(KindBadRequest, "move", fmt.Errorf("identifier missing mandatory tag %s for level %s", missing, level))
	}

	// The outgoing identifier carries exactly the mandatory UID tags for
	// the level plus QueryRetrieveLevel, never the full find-answer.
	moveIdentifier := query.NewQuery()
	for _, t := range mandatory {
		if v, ok := identifier.Get(t); ok {
			moveIdentifier.Set(t, v)
		}
	}
	moveIdentifier.Set(tag.QueryRetrieveLevel, level.String())

	identifierBytes, err := encodeIdentifier(moveIdentifier)
	if err != nil {
		return GetProgress{}, newError(KindBadRequest, "move", fmt.Errorf("encode C-MOVE identifier: %w", err))
	}

	messageID := cc.allocateMessageID()
	rq := &CommandSet{
		CommandField:        CommandFieldCMoveRQ,
		MessageID:           messageID,
		AffectedSOPClassUID: sopClass,
		MoveDestination:     targetAET,
		CommandDataSetType:  0x0001,
	}
	if err := cc.assoc.sendCommand(contextID, rq, identifierBytes); err != nil {
		return GetProgress{}, wireError(KindNetworkProtocol, "move", cc.assoc.params.RemoteAET, 0, err)
	}

	for {
		msg, err := cc.assoc.receiveMessage(cc.assoc.params.timeoutOrDefault())
		if err != nil {
			return GetProgress{}, wireError(KindNetworkProtocol, "move", cc.assoc.params.RemoteAET, 0, err)
		}
		if msg.command.CommandField != CommandFieldCMoveRSP {
			return GetProgress{}, wireError(KindNetworkProtocol, "move", cc.assoc.params.RemoteAET, 0,
				fmt.Errorf("unexpected command field 0x%04x during C-MOVE", msg.command.CommandField))
		}

		progress := progressFromCommand(msg.command)
		switch msg.command.Status {
		case StatusPending:
			continue
		case StatusSuccess:
			return progress, nil
		default:
			return progress, cc.assoc.Check("move", msg.command.Status)
		}
	}
}

// Get issues a C-GET at level, handling inbound C-STORE requests through
// onInstance as they interleave with the outbound C-GET-RSP stream. Fails
// with KindBadSequenceOfCalls if the connection was built without a
// GetConfig.
func (cc *ControlConnection) Get(ctx context.Context, level QueryRetrieveLevel, identifier *query.Query, onInstance InstanceReceivedFunc, onProgress func(GetProgress)) error {
	if cc.cfg.Get == nil {
		return newError(KindBadSequenceOfCalls, "get", fmt.Errorf("connection was not configured for C-GET (no storage SOP classes proposed)"))
	}
	sopClass := sopClassForGet(level)
	contextID, ok := cc.assoc.AcceptedContextID(sopClass)
	if !ok {
		return newError(KindFeatureUnavailable, "get", fmt.Errorf("no accepted presentation context for %s", sopClass))
	}

	messageID := cc.allocateMessageID()
	return runCGet(ctx, cc.assoc, contextID, sopClass, messageID, identifier, onInstance, onProgress,
		cc.assoc.params.LocalAET, cc.assoc.params.RemoteAET, cc.assoc.params.RemoteHost)
}

// firstMissingTag returns the keyword of the first tag in tags the
// identifier does not carry a non-empty value for, or "" if all are set.
func firstMissingTag(q *query.Query, tags []tag.Tag) string {
	for _, t := range tags {
		v, ok := q.Get(t)
		if !ok || v == "" {
			return t.String()
		}
	}
	return ""
}
