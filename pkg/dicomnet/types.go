package dicomnet

import "time"

// Role is the SCU/SCP role proposed for a presentation context.
type Role int

const (
	RoleSCU Role = iota
	RoleSCP
)

// ManufacturerProfile selects the identifier-normalization quirks applied
// before a Find query is sent on the wire (spec 4.2).
type ManufacturerProfile int

const (
	ProfileGeneric ManufacturerProfile = iota
	ProfileGenericNoUniversalWildcard
	ProfileGenericNoWildcardInDates
	ProfileGE
)

// QueryRetrieveLevel is the level a Find/Move/Get operates at.
type QueryRetrieveLevel int

const (
	LevelPatient QueryRetrieveLevel = iota
	LevelStudy
	LevelSeries
	LevelInstance
)

// ParseQueryRetrieveLevel parses a QueryRetrieveLevel element's string
// wire form (PATIENT/STUDY/SERIES/IMAGE) back into the enum.
func ParseQueryRetrieveLevel(s string) (QueryRetrieveLevel, bool) {
	switch s {
	case "PATIENT":
		return LevelPatient, true
	case "STUDY":
		return LevelStudy, true
	case "SERIES":
		return LevelSeries, true
	case "IMAGE":
		return LevelInstance, true
	default:
		return 0, false
	}
}

func (l QueryRetrieveLevel) String() string {
	switch l {
	case LevelPatient:
		return "PATIENT"
	case LevelStudy:
		return "STUDY"
	case LevelSeries:
		return "SERIES"
	case LevelInstance:
		return "IMAGE"
	default:
		return "UNKNOWN"
	}
}

// AssociationParameters is the immutable call configuration for one peer.
// It is produced by a caller (remote-modality configuration loading is
// explicitly outside this package's contract) and consumed every time an
// Association is opened.
type AssociationParameters struct {
	LocalAET     string
	RemoteAET    string
	RemoteHost   string
	RemotePort   int
	Timeout      time.Duration
	Manufacturer ManufacturerProfile
}

func (p AssociationParameters) timeoutOrDefault() time.Duration {
	if p.Timeout <= 0 {
		return 30 * time.Second
	}
	return p.Timeout
}

// PresentationContextProposal is one entry in the association proposal.
// Association keeps them in a slice, in proposal order, and after the
// handshake uses that order to map each accepted context id back to its
// abstract syntax.
type PresentationContextProposal struct {
	AbstractSyntaxUID string
	TransferSyntaxes  []string
	Role              Role
}

// Default transfer syntaxes proposed for control operations (Echo/Find/Move),
// DICOM PS3.5.
var defaultControlTransferSyntaxes = []string{
	TransferSyntaxImplicitVRLittleEndian,
	TransferSyntaxExplicitVRLittleEndian,
}

// Well-known UIDs the core depends on directly (DICOM PS3.6 / PS3.4).
const (
	TransferSyntaxImplicitVRLittleEndian = "1.2.840.10008.1.2"
	TransferSyntaxExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	TransferSyntaxExplicitVRBigEndian    = "1.2.840.10008.1.2.2"

	SOPClassVerification = "1.2.840.10008.1.1"

	SOPClassPatientRootFind = "1.2.840.10008.5.1.4.1.2.1.1"
	SOPClassPatientRootGet  = "1.2.840.10008.5.1.4.1.2.1.3"

	SOPClassStudyRootFind = "1.2.840.10008.5.1.4.1.2.2.1"
	SOPClassStudyRootMove = "1.2.840.10008.5.1.4.1.2.2.2"
	SOPClassStudyRootGet  = "1.2.840.10008.5.1.4.1.2.2.3"

	SOPClassModalityWorklistFind = "1.2.840.10008.5.1.4.31"

	applicationContextName = "1.2.840.10008.3.1.1.1"
	implementationClassUID = "1.2.826.0.1.3680043.9.9999.1.1"
	implementationVersion  = "RETRIEVE_CORE_1"
)

// sopClassForFind picks the abstract syntax for a Find at the given level.
func sopClassForFind(level QueryRetrieveLevel, worklist bool) string {
	if worklist {
		return SOPClassModalityWorklistFind
	}
	if level == LevelPatient {
		return SOPClassPatientRootFind
	}
	return SOPClassStudyRootFind
}

// sopClassForGet picks the abstract syntax for a Get at the given level.
func sopClassForGet(level QueryRetrieveLevel) string {
	if level == LevelPatient {
		return SOPClassPatientRootGet
	}
	return SOPClassStudyRootGet
}
