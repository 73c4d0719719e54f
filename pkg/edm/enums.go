package edm

import "fmt"

// Location is where care was delivered.
type Location uint8

const (
	LocationUnknown Location = iota + 1
	LocationInpatient
	LocationOutpatient
)

var locationNames = map[Location]string{
	LocationUnknown:    "Unknown",
	LocationInpatient:  "Inpatient",
	LocationOutpatient: "Outpatient",
}

var locationByName = invert(locationNames)

func (l Location) String() string { return nameOf(locationNames, l) }

// ParseLocation maps a wire spelling to a Location.
func ParseLocation(s string) (Location, bool) {
	l, ok := locationByName[s]
	return l, ok
}

func (l Location) MarshalText() ([]byte, error) { return marshalEnum(locationNames, l, "location") }

func (l *Location) UnmarshalText(b []byte) error {
	return unmarshalEnum(locationByName, b, l, "location")
}

// DemographicField names the attribute a Demographics fact records.
type DemographicField uint8

const (
	FieldBirthYear DemographicField = iota + 1
	FieldBirthDate
	FieldRace
	FieldRaceCodes
	FieldGender
	FieldZipcode
	FieldCounty
	FieldCountyFIPS
	FieldState
	FieldEthnicity
	FieldRegion
	FieldUrbanRural
)

var demographicFieldNames = map[DemographicField]string{
	FieldBirthYear:  "BirthYear",
	FieldBirthDate:  "BirthDate",
	FieldRace:       "Race",
	FieldRaceCodes:  "RaceCodes",
	FieldGender:     "Gender",
	FieldZipcode:    "Zipcode",
	FieldCounty:     "County",
	FieldCountyFIPS: "CountyFIPS",
	FieldState:      "State",
	FieldEthnicity:  "Ethnicity",
	FieldRegion:     "Region",
	FieldUrbanRural: "UrbanRural",
}

var demographicFieldByName = invert(demographicFieldNames)

func (f DemographicField) String() string { return nameOf(demographicFieldNames, f) }

// ParseDemographicField maps a wire spelling to a DemographicField.
func ParseDemographicField(s string) (DemographicField, bool) {
	f, ok := demographicFieldByName[s]
	return f, ok
}

func (f DemographicField) MarshalText() ([]byte, error) {
	return marshalEnum(demographicFieldNames, f, "demographic field")
}

func (f *DemographicField) UnmarshalText(b []byte) error {
	return unmarshalEnum(demographicFieldByName, b, f, "demographic field")
}

// Codebook is the coding system a Code belongs to. Wire spellings match the
// Go names except MedicaidCategory ("medicaid_category") and ICD9Proc
// ("ICD9_PROC").
type Codebook uint8

const (
	CodebookICD Codebook = iota + 1
	CodebookICD9
	CodebookICD9Proc
	CodebookICD10
	CodebookCPT
	CodebookHCPCS
	CodebookNDC
	CodebookLOINC
	CodebookGPI
	CodebookUB92
	CodebookMedicaidCategory
)

var codebookNames = map[Codebook]string{
	CodebookICD:              "ICD",
	CodebookICD9:             "ICD9",
	CodebookICD9Proc:         "ICD9_PROC",
	CodebookICD10:            "ICD10",
	CodebookCPT:              "CPT",
	CodebookHCPCS:            "HCPCS",
	CodebookNDC:              "NDC",
	CodebookLOINC:            "LOINC",
	CodebookGPI:              "GPI",
	CodebookUB92:             "UB92",
	CodebookMedicaidCategory: "medicaid_category",
}

var codebookByName = invert(codebookNames)

// String returns the wire spelling.
func (c Codebook) String() string { return nameOf(codebookNames, c) }

// ParseCodebook maps a wire spelling to a Codebook. Matching is exact.
func ParseCodebook(s string) (Codebook, bool) {
	c, ok := codebookByName[s]
	return c, ok
}

func (c Codebook) MarshalText() ([]byte, error) { return marshalEnum(codebookNames, c, "codebook") }

func (c *Codebook) UnmarshalText(b []byte) error {
	return unmarshalEnum(codebookByName, b, c, "codebook")
}

func invert[K comparable](m map[K]string) map[string]K {
	out := make(map[string]K, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

func nameOf[K comparable](m map[K]string, k K) string {
	if s, ok := m[k]; ok {
		return s
	}
	return fmt.Sprintf("%d(invalid)", any(k))
}

func marshalEnum[K comparable](m map[K]string, k K, what string) ([]byte, error) {
	s, ok := m[k]
	if !ok {
		return nil, encodeErr("", "invalid %s value %d", what, any(k))
	}
	return []byte(s), nil
}

func unmarshalEnum[K comparable](m map[string]K, b []byte, dst *K, what string) error {
	k, ok := m[string(b)]
	if !ok {
		return fmt.Errorf("edm: unknown %s %q", what, b)
	}
	*dst = k
	return nil
}
