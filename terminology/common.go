package terminology

// Canonical urls of the preloaded systems.
const (
	SystemGender            = "http://hl7.org/fhir/administrative-gender"
	SystemYesNo             = "http://terminology.hl7.org/CodeSystem/v2-0136"
	SystemObservationStatus = "http://hl7.org/fhir/observation-status"
	SystemConditionClinical = "http://terminology.hl7.org/CodeSystem/condition-clinical"
	SystemEncounterStatus   = "http://hl7.org/fhir/encounter-status"
	SystemMaritalStatus     = "http://terminology.hl7.org/CodeSystem/v3-MaritalStatus"

	ValueSetGender            = "http://hl7.org/fhir/ValueSet/administrative-gender"
	ValueSetYesNo             = "http://terminology.hl7.org/ValueSet/v2-0136"
	ValueSetObservationStatus = "http://hl7.org/fhir/ValueSet/observation-status"
	ValueSetConditionClinical = "http://hl7.org/fhir/ValueSet/condition-clinical"
	ValueSetEncounterStatus   = "http://hl7.org/fhir/ValueSet/encounter-status"
	ValueSetMaritalStatus     = "http://hl7.org/fhir/ValueSet/marital-status"
)

// loadCommon registers code systems that clinical record schemas reference
// most often, each with a value set including all of its codes.
func (s *Store) loadCommon() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addCodeSystem(SystemGender, map[string]string{
		"male":    "Male",
		"female":  "Female",
		"other":   "Other",
		"unknown": "Unknown",
	})
	s.addCodeSystem(SystemYesNo, map[string]string{
		"Y": "Yes",
		"N": "No",
	})
	s.addCodeSystem(SystemObservationStatus, map[string]string{
		"registered":       "Registered",
		"preliminary":      "Preliminary",
		"final":            "Final",
		"amended":          "Amended",
		"corrected":        "Corrected",
		"cancelled":        "Cancelled",
		"entered-in-error": "Entered in Error",
		"unknown":          "Unknown",
	})
	s.addCodeSystem(SystemConditionClinical, map[string]string{
		"active":     "Active",
		"recurrence": "Recurrence",
		"relapse":    "Relapse",
		"inactive":   "Inactive",
		"remission":  "Remission",
		"resolved":   "Resolved",
	})
	s.addCodeSystem(SystemEncounterStatus, map[string]string{
		"planned":          "Planned",
		"arrived":          "Arrived",
		"triaged":          "Triaged",
		"in-progress":      "In Progress",
		"onleave":          "On Leave",
		"finished":         "Finished",
		"cancelled":        "Cancelled",
		"entered-in-error": "Entered in Error",
		"unknown":          "Unknown",
	})
	s.addCodeSystem(SystemMaritalStatus, map[string]string{
		"A": "Annulled",
		"D": "Divorced",
		"I": "Interlocutory",
		"L": "Legally Separated",
		"M": "Married",
		"P": "Polygamous",
		"S": "Never Married",
		"T": "Domestic partner",
		"U": "unmarried",
		"W": "Widowed",
	})

	s.addValueSetFor(ValueSetGender, SystemGender)
	s.addValueSetFor(ValueSetYesNo, SystemYesNo)
	s.addValueSetFor(ValueSetObservationStatus, SystemObservationStatus)
	s.addValueSetFor(ValueSetConditionClinical, SystemConditionClinical)
	s.addValueSetFor(ValueSetEncounterStatus, SystemEncounterStatus)
	s.addValueSetFor(ValueSetMaritalStatus, SystemMaritalStatus)
}
