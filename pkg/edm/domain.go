package edm

// Domain is the discriminator that selects the shape of a Context's facts.
type Domain uint8

const (
	DomainClaim Domain = iota + 1
	DomainDemographics
	DomainDiagnosis
	DomainEligibility
	DomainEnrollment
	DomainLabs
	DomainMedication
	DomainProcedure
	DomainDeath
)

type factsDecoder func(sc *scanner, path string) (Facts, error)

// domains is the closed dispatch table. Adding a domain means adding a row
// here and a Facts type with its encoder.
var domains = [...]struct {
	name   string
	decode factsDecoder
}{
	DomainClaim:        {"Claim", decodeClaimFacts},
	DomainDemographics: {"Demographics", decodeDemographicsFacts},
	DomainDiagnosis:    {"Diagnosis", decodeDiagnosisFacts},
	DomainEligibility:  {"Eligibility", decodeEmpty(EligibilityFacts{})},
	DomainEnrollment:   {"Enrollment", decodeEmpty(EnrollmentFacts{})},
	DomainLabs:         {"Labs", decodeLabsFacts},
	DomainMedication:   {"Medication", decodeMedicationFacts},
	DomainProcedure:    {"Procedure", decodeProcedureFacts},
	DomainDeath:        {"Death", decodeEmpty(DeathFacts{})},
}

var domainByName = func() map[string]Domain {
	m := make(map[string]Domain, len(domains))
	for d, row := range domains {
		if row.name != "" {
			m[row.name] = Domain(d)
		}
	}
	return m
}()

// Domains lists every known domain in declaration order.
func Domains() []Domain {
	out := make([]Domain, 0, len(domains)-1)
	for d := DomainClaim; int(d) < len(domains); d++ {
		out = append(out, d)
	}
	return out
}

// ParseDomain maps a wire tag to a Domain. Matching is exact and
// case-sensitive.
func ParseDomain(s string) (Domain, bool) {
	d, ok := domainByName[s]
	return d, ok
}

// Valid reports whether d is one of the known domains.
func (d Domain) Valid() bool {
	return d > 0 && int(d) < len(domains)
}

func (d Domain) String() string {
	if d.Valid() {
		return domains[d].name
	}
	return "Invalid"
}

func (d Domain) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, encodeErr("domain", "invalid domain %d", uint8(d))
	}
	return []byte(domains[d].name), nil
}

func (d *Domain) UnmarshalText(b []byte) error {
	v, ok := ParseDomain(string(b))
	if !ok {
		return &DecodeError{Kind: KindUnknownDomain, Path: "domain", Offset: -1, Msg: "unknown domain " + string(b)}
	}
	*d = v
	return nil
}

// decodeFacts dispatches on the tag and decodes the payload strictly
// against the selected schema.
func decodeFacts(sc *scanner, tag string, tagOffset int, path string) (Facts, error) {
	d, ok := ParseDomain(tag)
	if !ok {
		return nil, decodeErr(KindUnknownDomain, "domain", tagOffset, "unknown domain %q", tag)
	}
	offset := sc.pos
	if k := sc.peek(); k != kindObject {
		sc.raw()
		return nil, invalidKind(path, offset, "object", k)
	}
	return domains[d].decode(sc, path)
}
