package dicomnet

import (
	"github.com/dicomrouter/retrieve-core/pkg/query"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Per-level module tag sets used by Find normalization (spec 4.2). Each
// slice lists the tags introduced at that module; allowedTagsForLevel folds
// in every module at and above the requested level.
var (
	patientModuleTags = []tag.Tag{
		tag.PatientID, tag.PatientName, tag.PatientBirthDate, tag.PatientSex,
	}
	studyModuleTags = []tag.Tag{
		tag.StudyInstanceUID, tag.StudyDate, tag.StudyTime, tag.StudyID,
		tag.AccessionNumber, tag.StudyDescription, tag.ReferringPhysicianName,
	}
	seriesModuleTags = []tag.Tag{
		tag.SeriesInstanceUID, tag.SeriesNumber, tag.Modality, tag.SeriesDescription,
	}
	instanceModuleTags = []tag.Tag{
		tag.SOPInstanceUID, tag.InstanceNumber, tag.ImageType,
	}

	// Count/cross-level tags allowed regardless of the requested level.
	crossLevelTags = []tag.Tag{
		tag.NumberOfPatientRelatedStudies,
		tag.NumberOfPatientRelatedSeries,
		tag.NumberOfPatientRelatedInstances,
		tag.ModalitiesInStudy,
		tag.NumberOfStudyRelatedSeries,
		tag.NumberOfStudyRelatedInstances,
		tag.SOPClassesInStudy,
		tag.NumberOfSeriesRelatedInstances,
	}

	// dateVRTags lists the tags treated as Date-VR for the
	// GenericNoWildcardInDates quirk. A handful of real tags, not a full
	// VR dictionary: DICOM parsing internals are an external service the
	// core only asks "is t a date field" about for this one normalization
	// rule.
	dateVRTags = map[tag.Tag]bool{
		tag.StudyDate:        true,
		tag.PatientBirthDate: true,
	}
)

func allowedTagsForLevel(level QueryRetrieveLevel) map[tag.Tag]bool {
	allowed := make(map[tag.Tag]bool)
	add := func(tags []tag.Tag) {
		for _, t := range tags {
			allowed[t] = true
		}
	}
	add(patientModuleTags)
	if level >= LevelStudy {
		add(studyModuleTags)
	}
	if level >= LevelSeries {
		add(seriesModuleTags)
	}
	if level >= LevelInstance {
		add(instanceModuleTags)
	}
	add(crossLevelTags)
	allowed[tag.SpecificCharacterSet] = true
	allowed[tag.QueryRetrieveLevel] = true
	return allowed
}

// normalizeForLevel drops every tag from q that is not allowed at level,
// per spec 4.2. Dropped tags are reported to the caller so it can log a
// warning without this package importing the logger for a list that is
// usually empty.
func normalizeForLevel(q *query.Query, level QueryRetrieveLevel) (dropped []tag.Tag) {
	allowed := allowedTagsForLevel(level)
	for _, t := range q.Tags() {
		if !allowed[t] {
			q.Delete(t)
			dropped = append(dropped, t)
		}
	}
	return dropped
}

// applyManufacturerQuirks rewrites q in place per the peer's manufacturer
// profile (spec 4.2).
func applyManufacturerQuirks(q *query.Query, profile ManufacturerProfile) {
	switch profile {
	case ProfileGenericNoUniversalWildcard:
		for _, t := range q.Tags() {
			if v, _ := q.Get(t); v == "*" {
				q.Set(t, "")
			}
		}
	case ProfileGenericNoWildcardInDates:
		for _, t := range q.Tags() {
			if !dateVRTags[t] {
				continue
			}
			if v, _ := q.Get(t); v == "*" {
				q.Set(t, "")
			}
		}
	}
}

// defaultValueForMissingField returns the value applied to a mandatory
// identifier field the caller never set: "*" for GE, "" (universal
// matcher) for everyone else.
func defaultValueForMissingField(profile ManufacturerProfile) string {
	if profile == ProfileGE {
		return "*"
	}
	return ""
}

// ensureIdentifierFields inserts the mandatory UID/ID fields for level with
// the universal matcher (or "*" for GE) when the caller did not set them.
func ensureIdentifierFields(q *query.Query, level QueryRetrieveLevel, profile ManufacturerProfile) {
	fill := func(t tag.Tag) {
		if !q.Has(t) {
			q.Set(t, defaultValueForMissingField(profile))
		}
	}

	fill(tag.PatientID)
	if level >= LevelStudy {
		fill(tag.StudyInstanceUID)
		fill(tag.AccessionNumber)
	}
	if level >= LevelSeries {
		fill(tag.SeriesInstanceUID)
	}
	if level >= LevelInstance {
		fill(tag.SOPInstanceUID)
	}
}

// mandatoryMoveTags returns the exact set of UID tags a C-Move identifier
// must carry for level (spec testable property in 8).
func mandatoryMoveTags(level QueryRetrieveLevel) []tag.Tag {
	switch level {
	case LevelPatient:
		return []tag.Tag{tag.PatientID}
	case LevelStudy:
		return []tag.Tag{tag.StudyInstanceUID}
	case LevelSeries:
		return []tag.Tag{tag.StudyInstanceUID, tag.SeriesInstanceUID}
	case LevelInstance:
		return []tag.Tag{tag.StudyInstanceUID, tag.SeriesInstanceUID, tag.SOPInstanceUID}
	default:
		return nil
	}
}
