package retrieve

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/dicomrouter/retrieve-core/pkg/dicomnet"
	"github.com/dicomrouter/retrieve-core/pkg/query"
)

// QueryFormat names the tag-map encoding a persisted job's Query field
// uses. Only Short is produced by this package. LoadRetrieveJob ignores the
// QueryFormat field and reads every tag map in the Short "GGGG,EEEE" form
// with string values, so a body using Human or Full keys fails to load
// with KindBadFileFormat.
type QueryFormat string

const (
	QueryFormatShort QueryFormat = "Short"
	QueryFormatHuman QueryFormat = "Human"
	QueryFormatFull  QueryFormat = "Full"
)

type persistedRemote struct {
	AET  string `json:"AET"`
	Host string `json:"Host"`
	Port int    `json:"Port"`
}

type persistedCommand struct {
	Query                map[string]string `json:"Query"`
	DimseErrorStatus     uint16             `json:"DimseErrorStatus"`
	ReceivedInstancesIds []string           `json:"ReceivedInstancesIds"`
}

type persistedJob struct {
	LocalAet    string             `json:"LocalAet"`
	Remote      persistedRemote    `json:"Remote"`
	Timeout     int                `json:"Timeout"`
	Query       map[string]string  `json:"Query"`
	QueryFormat QueryFormat        `json:"QueryFormat"`
	Commands    []json.RawMessage  `json:"Commands"`
	TargetAet   string             `json:"TargetAet,omitempty"`
}

// tagKey renders t as the short "GGGG,EEEE" hex form used by the persisted
// schema, matching how DICOM tooling commonly round-trips tag maps to JSON.
func tagKey(t tag.Tag) string {
	return fmt.Sprintf("%04X,%04X", t.Group, t.Element)
}

func parseTagKey(s string) (tag.Tag, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return tag.Tag{}, fmt.Errorf("malformed tag key %q", s)
	}
	group, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return tag.Tag{}, fmt.Errorf("malformed tag key %q: %w", s, err)
	}
	element, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return tag.Tag{}, fmt.Errorf("malformed tag key %q: %w", s, err)
	}
	return tag.Tag{Group: uint16(group), Element: uint16(element)}, nil
}

func encodeTagMap(fields map[tag.Tag]string) map[string]string {
	out := make(map[string]string, len(fields))
	for t, v := range fields {
		out[tagKey(t)] = v
	}
	return out
}

func decodeTagMap(m map[string]string) (map[tag.Tag]string, error) {
	out := make(map[tag.Tag]string, len(m))
	for k, v := range m {
		t, err := parseTagKey(k)
		if err != nil {
			return nil, fmt.Errorf("decode tag map: %w", err)
		}
		out[t] = v
	}
	return out, nil
}

// MarshalJSON encodes the job per the persisted shape: association
// parameters, the query format, the target AET of a Move job, and each
// command's stored answer, last status and received-instance ids. The
// job-level Query field is always written as null: RetrieveJob keeps no
// accumulated query of its own.
func (j *RetrieveJob) MarshalJSON() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	pj := persistedJob{
		LocalAet: j.params.LocalAET,
		Remote: persistedRemote{
			AET:  j.params.RemoteAET,
			Host: j.params.RemoteHost,
			Port: j.params.RemotePort,
		},
		Timeout:     int(j.params.Timeout.Seconds()),
		QueryFormat: QueryFormatShort,
	}
	if j.move != nil {
		pj.TargetAet = j.move.targetAET
	}

	for _, cmd := range j.commands {
		answer := cmd.Answer()
		pc := persistedCommand{
			Query:                encodeTagMap(answer.Fields),
			DimseErrorStatus:     cmd.Status(),
			ReceivedInstancesIds: cmd.ReceivedInstanceIDs(),
		}
		raw, err := json.Marshal(pc)
		if err != nil {
			return nil, fmt.Errorf("marshal retrieve job command: %w", err)
		}
		pj.Commands = append(pj.Commands, raw)
	}

	return json.Marshal(pj)
}

// LoadRetrieveJob decodes a persisted job body built by MarshalJSON.
// directory is the constructor argument a Get job is built with; whether
// the body is a Move or a Get job is decided by the presence of TargetAet,
// the only discriminator a persisted body carries. Older bodies where a command was just the bare Find
// answer tag map (no DimseErrorStatus/ReceivedInstancesIds wrapper) are
// tolerated.
func LoadRetrieveJob(data []byte, directory StorageSOPClassDirectory) (*RetrieveJob, error) {
	var pj persistedJob
	if err := json.Unmarshal(data, &pj); err != nil {
		return nil, dicomnet.NewError(dicomnet.KindBadFileFormat, "load", fmt.Errorf("decode retrieve job: %w", err))
	}

	params := dicomnet.AssociationParameters{
		LocalAET:   pj.LocalAet,
		RemoteAET:  pj.Remote.AET,
		RemoteHost: pj.Remote.Host,
		RemotePort: pj.Remote.Port,
	}
	if pj.Timeout > 0 {
		params.Timeout = time.Duration(pj.Timeout) * time.Second
	}

	var job *RetrieveJob
	if pj.TargetAet != "" {
		job = NewMoveJob(params, pj.TargetAet)
	} else {
		job = NewGetJob(params, directory)
	}

	for _, raw := range pj.Commands {
		answer, status, received, err := decodePersistedCommand(raw)
		if err != nil {
			return nil, dicomnet.NewError(dicomnet.KindBadFileFormat, "load", err)
		}
		cmd := NewCommand(answer)
		cmd.setStatus(status)
		for _, id := range received {
			cmd.addReceivedInstance(id)
		}
		job.commands = append(job.commands, cmd)
		job.succeeded = append(job.succeeded, status == dicomnet.StatusSuccess)
	}

	return job, nil
}

// decodePersistedCommand tolerates two shapes: the current
// {Query,DimseErrorStatus,ReceivedInstancesIds} object, and an older
// schema where the command was simply the bare tag map.
func decodePersistedCommand(raw json.RawMessage) (query.FindAnswer, uint16, []string, error) {
	var pc persistedCommand
	if err := json.Unmarshal(raw, &pc); err == nil && pc.Query != nil {
		fields, err := decodeTagMap(pc.Query)
		if err != nil {
			return query.FindAnswer{}, 0, nil, err
		}
		return query.FindAnswer{Fields: fields}, pc.DimseErrorStatus, pc.ReceivedInstancesIds, nil
	}

	var bare map[string]string
	if err := json.Unmarshal(raw, &bare); err != nil {
		return query.FindAnswer{}, 0, nil, fmt.Errorf("decode retrieve command: %w", err)
	}
	fields, err := decodeTagMap(bare)
	if err != nil {
		return query.FindAnswer{}, 0, nil, err
	}
	return query.FindAnswer{Fields: fields}, 0, nil, nil
}
