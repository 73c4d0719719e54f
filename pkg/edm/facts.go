package edm

import "encoding/json"

// Facts is the domain-specific payload of a Context. It is implemented only
// by the *Facts types in this package, one per Domain, so the domain tag of
// a Context is always the one its payload belongs to.
type Facts interface {
	Domain() Domain
	appendFacts(dst []byte, path string) ([]byte, error)
}

// ClaimFacts records a billing claim.
type ClaimFacts struct {
	Claim    Claim
	Location *Location
	Cost     *Cost
}

// DemographicsFacts records one demographic attribute. Info is kept as the
// source wrote it, since its shape depends on Field.
type DemographicsFacts struct {
	Field DemographicField
	Info  json.RawMessage
}

type DiagnosisFacts struct {
	Code     Code
	Claim    *Claim
	Location *Location
}

type EligibilityFacts struct{}

type EnrollmentFacts struct{}

type DeathFacts struct{}

type LabsFacts struct {
	Code     Code
	Value    LabValue
	Claim    *Claim
	Location *Location
}

type MedicationFacts struct {
	Code     Code
	Fill     *Fill
	Location *Location
	Claim    *Claim
}

type ProcedureFacts struct {
	Code     Code
	Claim    *Claim
	Location *Location
}

func (ClaimFacts) Domain() Domain        { return DomainClaim }
func (DemographicsFacts) Domain() Domain { return DomainDemographics }
func (DiagnosisFacts) Domain() Domain    { return DomainDiagnosis }
func (EligibilityFacts) Domain() Domain  { return DomainEligibility }
func (EnrollmentFacts) Domain() Domain   { return DomainEnrollment }
func (DeathFacts) Domain() Domain        { return DomainDeath }
func (LabsFacts) Domain() Domain         { return DomainLabs }
func (MedicationFacts) Domain() Domain   { return DomainMedication }
func (ProcedureFacts) Domain() Domain    { return DomainProcedure }

// CodeOf returns the clinical code carried by f, if its domain has one.
// factsDomain is f.Domain() with nil pointers to facts types treated like a
// nil Facts: both report 0.
func factsDomain(f Facts) Domain {
	var isNil bool
	switch v := f.(type) {
	case nil:
		return 0
	case *ClaimFacts:
		isNil = v == nil
	case *DemographicsFacts:
		isNil = v == nil
	case *DiagnosisFacts:
		isNil = v == nil
	case *EligibilityFacts:
		isNil = v == nil
	case *EnrollmentFacts:
		isNil = v == nil
	case *DeathFacts:
		isNil = v == nil
	case *LabsFacts:
		isNil = v == nil
	case *MedicationFacts:
		isNil = v == nil
	case *ProcedureFacts:
		isNil = v == nil
	}
	if isNil {
		return 0
	}
	return f.Domain()
}

func CodeOf(f Facts) (Code, bool) {
	switch v := f.(type) {
	case DiagnosisFacts:
		return v.Code, true
	case LabsFacts:
		return v.Code, true
	case MedicationFacts:
		return v.Code, true
	case ProcedureFacts:
		return v.Code, true
	case *DiagnosisFacts:
		return v.Code, true
	case *LabsFacts:
		return v.Code, true
	case *MedicationFacts:
		return v.Code, true
	case *ProcedureFacts:
		return v.Code, true
	}
	return Code{}, false
}

func decodeClaimFacts(sc *scanner, path string) (Facts, error) {
	start := sc.pos
	var f ClaimFacts
	var haveClaim bool
	err := sc.object(func(key string, offset int) error {
		var err error
		p := joinPath(path, key)
		switch key {
		case "claim":
			f.Claim, err = decodeClaim(sc, p)
			haveClaim = true
		case "location":
			f.Location, err = readOptLocation(sc, p)
		case "cost":
			f.Cost, err = decodeOptCost(sc, p)
		default:
			err = unknownField(path, offset, key)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !haveClaim {
		return nil, missingField(path, start, "claim")
	}
	return f, nil
}

func decodeDemographicsFacts(sc *scanner, path string) (Facts, error) {
	start := sc.pos
	var f DemographicsFacts
	var haveField bool
	err := sc.object(func(key string, offset int) error {
		p := joinPath(path, key)
		switch key {
		case "field":
			s, err := readString(sc, p)
			if err != nil {
				return err
			}
			field, ok := ParseDemographicField(s)
			if !ok {
				return decodeErr(KindInvalidFacts, p, offset, "unknown demographic field %q", s)
			}
			f.Field, haveField = field, true
		case "info":
			f.Info = readOpaque(sc)
		default:
			return unknownField(path, offset, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !haveField {
		return nil, missingField(path, start, "field")
	}
	return f, nil
}

func decodeDiagnosisFacts(sc *scanner, path string) (Facts, error) {
	start := sc.pos
	var f DiagnosisFacts
	var haveCode bool
	err := sc.object(func(key string, offset int) error {
		var err error
		p := joinPath(path, key)
		switch key {
		case "code":
			f.Code, err = decodeCode(sc, p)
			haveCode = true
		case "claim":
			f.Claim, err = decodeOptClaim(sc, p)
		case "location":
			f.Location, err = readOptLocation(sc, p)
		default:
			err = unknownField(path, offset, key)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !haveCode {
		return nil, missingField(path, start, "code")
	}
	return f, nil
}

// decodeEmpty accepts only {} for the marker domains.
func decodeEmpty(f Facts) func(sc *scanner, path string) (Facts, error) {
	return func(sc *scanner, path string) (Facts, error) {
		err := sc.object(func(key string, offset int) error {
			return unknownField(path, offset, key)
		})
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

func decodeLabsFacts(sc *scanner, path string) (Facts, error) {
	start := sc.pos
	var f LabsFacts
	var haveCode, haveValue bool
	err := sc.object(func(key string, offset int) error {
		var err error
		p := joinPath(path, key)
		switch key {
		case "code":
			f.Code, err = decodeCode(sc, p)
			haveCode = true
		case "value":
			f.Value, err = decodeLabValue(sc, p)
			haveValue = true
		case "claim":
			f.Claim, err = decodeOptClaim(sc, p)
		case "location":
			f.Location, err = readOptLocation(sc, p)
		default:
			err = unknownField(path, offset, key)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !haveCode {
		return nil, missingField(path, start, "code")
	}
	if !haveValue {
		return nil, missingField(path, start, "value")
	}
	return f, nil
}

func decodeMedicationFacts(sc *scanner, path string) (Facts, error) {
	start := sc.pos
	var f MedicationFacts
	var haveCode bool
	err := sc.object(func(key string, offset int) error {
		var err error
		p := joinPath(path, key)
		switch key {
		case "code":
			f.Code, err = decodeCode(sc, p)
			haveCode = true
		case "fill":
			f.Fill, err = decodeOptFill(sc, p)
		case "location":
			f.Location, err = readOptLocation(sc, p)
		case "claim":
			f.Claim, err = decodeOptClaim(sc, p)
		default:
			err = unknownField(path, offset, key)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !haveCode {
		return nil, missingField(path, start, "code")
	}
	return f, nil
}

func decodeProcedureFacts(sc *scanner, path string) (Facts, error) {
	start := sc.pos
	var f ProcedureFacts
	var haveCode bool
	err := sc.object(func(key string, offset int) error {
		var err error
		p := joinPath(path, key)
		switch key {
		case "code":
			f.Code, err = decodeCode(sc, p)
			haveCode = true
		case "claim":
			f.Claim, err = decodeOptClaim(sc, p)
		case "location":
			f.Location, err = readOptLocation(sc, p)
		default:
			err = unknownField(path, offset, key)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !haveCode {
		return nil, missingField(path, start, "code")
	}
	return f, nil
}

func (f ClaimFacts) appendFacts(dst []byte, path string) ([]byte, error) {
	dst = append(dst, `{"claim":`...)
	dst = appendClaim(dst, &f.Claim)
	dst, err := appendLocation(dst, f.Location, path)
	if err != nil {
		return dst, err
	}
	if f.Cost != nil {
		dst = append(dst, `,"cost":`...)
		dst = appendCost(dst, f.Cost)
	}
	return append(dst, '}'), nil
}

func (f DemographicsFacts) appendFacts(dst []byte, path string) ([]byte, error) {
	name, ok := demographicFieldNames[f.Field]
	if !ok {
		return dst, encodeErr(joinPath(path, "field"), "invalid demographic field %d", uint8(f.Field))
	}
	dst = append(dst, `{"field":`...)
	dst = appendString(dst, name)
	if f.Info != nil {
		if !json.Valid(f.Info) {
			return dst, encodeErr(joinPath(path, "info"), "info is not valid JSON")
		}
		dst = append(dst, `,"info":`...)
		dst = append(dst, f.Info...)
	}
	return append(dst, '}'), nil
}

func (f DiagnosisFacts) appendFacts(dst []byte, path string) ([]byte, error) {
	return appendCoded(dst, path, f.Code, nil, f.Claim, f.Location)
}

func (f ProcedureFacts) appendFacts(dst []byte, path string) ([]byte, error) {
	return appendCoded(dst, path, f.Code, nil, f.Claim, f.Location)
}

func (f LabsFacts) appendFacts(dst []byte, path string) ([]byte, error) {
	return appendCoded(dst, path, f.Code, &f.Value, f.Claim, f.Location)
}

func (f MedicationFacts) appendFacts(dst []byte, path string) ([]byte, error) {
	dst = append(dst, `{"code":`...)
	dst, err := appendCode(dst, f.Code, joinPath(path, "code"))
	if err != nil {
		return dst, err
	}
	if f.Fill != nil {
		dst = append(dst, `,"fill":`...)
		dst = appendFill(dst, f.Fill)
	}
	if dst, err = appendLocation(dst, f.Location, path); err != nil {
		return dst, err
	}
	if f.Claim != nil {
		dst = append(dst, `,"claim":`...)
		dst = appendClaim(dst, f.Claim)
	}
	return append(dst, '}'), nil
}

// appendCoded writes the code/value/claim/location layout shared by
// Diagnosis, Labs and Procedure.
func appendCoded(dst []byte, path string, code Code, value *LabValue, claim *Claim, loc *Location) ([]byte, error) {
	dst = append(dst, `{"code":`...)
	dst, err := appendCode(dst, code, joinPath(path, "code"))
	if err != nil {
		return dst, err
	}
	if value != nil {
		dst = append(dst, `,"value":`...)
		if dst, err = appendLabValue(dst, *value, joinPath(path, "value")); err != nil {
			return dst, err
		}
	}
	if claim != nil {
		dst = append(dst, `,"claim":`...)
		dst = appendClaim(dst, claim)
	}
	if dst, err = appendLocation(dst, loc, path); err != nil {
		return dst, err
	}
	return append(dst, '}'), nil
}

func (EligibilityFacts) appendFacts(dst []byte, _ string) ([]byte, error) {
	return append(dst, '{', '}'), nil
}

func (EnrollmentFacts) appendFacts(dst []byte, _ string) ([]byte, error) {
	return append(dst, '{', '}'), nil
}

func (DeathFacts) appendFacts(dst []byte, _ string) ([]byte, error) {
	return append(dst, '{', '}'), nil
}
