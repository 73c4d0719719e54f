package edm

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// corpus holds one canonical record per domain. Each must survive a
// decode/encode cycle byte for byte.
var corpus = []struct {
	name   string
	domain Domain
	input  string
}{
	{
		name:   "claim",
		domain: DomainClaim,
		input: `[123,0,1,"Claim",["c1"],{"patient_id":123,"time":{"begin":0,"end":1},"domain":"Claim",` +
			`"facts":{"claim":{"id":"claim1","type":"inst","index":2,"procedure":"p1"},"location":"Inpatient",` +
			`"cost":{"charge":"10.00","cost":"8.00","allowed":"7.50","transaction":"t1"}},"source":{"table":"claims"}}]`,
	},
	{
		name:   "demographics",
		domain: DomainDemographics,
		input: `["xyz",2,null,"Demographics",[],{"patient_id":"abc","time":{"begin":0,"end":1},"domain":"Demographics",` +
			`"facts":{"field":"BirthYear","info":"1980"},"source":{"table":"somewhere","db":"optum"},` +
			`"misc":{"key1":"val1","key2":"val2"}}]`,
	},
	{
		name:   "demographics structured info",
		domain: DomainDemographics,
		input: `["xyz",2,null,"Demographics",[],{"patient_id":"abc","time":{"begin":0,"end":1},"domain":"Demographics",` +
			`"facts":{"field":"RaceCodes","info":{"codes":[1, 2.50,3e2],"z":null}}}]`,
	},
	{
		name:   "diagnosis",
		domain: DomainDiagnosis,
		input: `["abc",2,null,"Diagnosis",[],{"patient_id":"abc","time":{"begin":0,"end":1},"domain":"Diagnosis",` +
			`"facts":{"code":{"code":"99.01","codebook":"ICD"},"claim":{"id":"98918","index":900},"location":"Inpatient"},` +
			`"source":{"table":"somewhere","db":"optum"},"misc":{"key1":"val1","key5":"val5","key5":"val5"}}]`,
	},
	{
		name:   "eligibility",
		domain: DomainEligibility,
		input: `[7,"2010-01-01","2010-12-31","Eligibility",[],{"patient_id":7,"time":{"begin":"2010-01-01","end":"2010-12-31"},` +
			`"domain":"Eligibility","facts":{}}]`,
	},
	{
		name:   "enrollment",
		domain: DomainEnrollment,
		input: `["A","2010-01-01",null,"Enrollment",[],{"patient_id":"A","time":{"begin":"2010-01-01","end":null},` +
			`"domain":"Enrollment","facts":{},"source":null}]`,
	},
	{
		name:   "labs",
		domain: DomainLabs,
		input: `[42,1262304000,null,"Labs",["lab"],{"patient_id":42,"time":{"begin":1262304000,"end":null},"domain":"Labs",` +
			`"facts":{"code":{"code":"2345-7","codebook":"LOINC"},"value":{"text":"high","number":1.0,"units":"mg/dL"},` +
			`"claim":{"id":"c9"},"location":"Outpatient"}}]`,
	},
	{
		name:   "medication",
		domain: DomainMedication,
		input: `[42,0,1,"Medication",[],{"patient_id":42,"time":{"begin":0,"end":1},"domain":"Medication",` +
			`"facts":{"code":{"code":"00093-0058","codebook":"NDC"},"fill":{"days_supply":30,"quantity":-1,"strength":"10mg"},` +
			`"location":"Unknown","claim":{"id":"rx1"}},"misc":[1,2]}]`,
	},
	{
		name:   "procedure",
		domain: DomainProcedure,
		input: `["abc",2,null,"Procedure",["a","a"],{"patient_id":"abc","time":{"begin":0,"end":1},"domain":"Procedure",` +
			`"facts":{"code":{"code":"99.01","codebook":"CPT"},"location":"Outpatient"}}]`,
	},
	{
		name:   "death",
		domain: DomainDeath,
		input: `[1,"2020-05-01",null,"Death",[],{"patient_id":1,"time":{"begin":"2020-05-01","end":null},` +
			`"domain":"Death","facts":{}}]`,
	},
	{
		name:   "escaped strings",
		domain: DomainMedication,
		input: `["p\"1",0,1,"Medication",["tab\there","back\\slash","é"],{"patient_id":"line\nbreak","time":{"begin":0,"end":1},` +
			`"domain":"Medication","facts":{"code":{"code":"\u0001x","codebook":"medicaid_category"}}}]`,
	},
}

func TestRoundTrip_ByteExact(t *testing.T) {
	for _, tc := range corpus {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodeString(tc.input)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if ev.Domain() != tc.domain {
				t.Errorf("expected domain %s, got %s", tc.domain, ev.Domain())
			}
			out, err := EncodeString(ev)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if out != tc.input {
				t.Errorf("round trip mismatch\n got: %s\nwant: %s", out, tc.input)
			}
		})
	}
}

func TestRoundTrip_Idempotent(t *testing.T) {
	for _, tc := range corpus {
		t.Run(tc.name, func(t *testing.T) {
			first, err := DecodeString(tc.input)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			b, err := Encode(first)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			second, err := Decode(b)
			if err != nil {
				t.Fatalf("re-decode: %v", err)
			}
			if !reflect.DeepEqual(first, second) {
				t.Errorf("re-decoded event differs\nfirst:  %+v\nsecond: %+v", first, second)
			}
		})
	}
}

func TestRoundTrip_EveryDomainCovered(t *testing.T) {
	seen := map[Domain]bool{}
	for _, tc := range corpus {
		seen[tc.domain] = true
	}
	for _, d := range Domains() {
		if !seen[d] {
			t.Errorf("no corpus record for domain %s", d)
		}
	}
}

func TestDecode_ClaimContextLiteral(t *testing.T) {
	input := `{"patient_id":123,"time":{"begin":0,"end":1},"domain":"Claim","facts":{"claim":{"id":"claim1"}}}`

	ctx, err := DecodeContext([]byte(input))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	facts, ok := ctx.Facts.(ClaimFacts)
	if !ok {
		t.Fatalf("expected ClaimFacts, got %T", ctx.Facts)
	}
	if facts.Claim.ID != "claim1" {
		t.Errorf("expected claim id claim1, got %q", facts.Claim.ID)
	}
	if facts.Location != nil {
		t.Errorf("expected no location, got %v", *facts.Location)
	}
	if facts.Cost != nil {
		t.Errorf("expected no cost, got %+v", *facts.Cost)
	}
	if n, ok := ctx.Subject.Int(); !ok || n != 123 {
		t.Errorf("expected numeric subject 123, got %v", ctx.Subject)
	}

	out, err := EncodeContext(ctx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(out) != input {
		t.Errorf("round trip mismatch\n got: %s\nwant: %s", out, input)
	}
}

func TestDecode_UnknownDomain(t *testing.T) {
	for _, tag := range []string{"Unknown", "claim", "", "Diagnosis ", "Vitals"} {
		ctx := `{"patient_id":1,"time":{"begin":0,"end":1},"domain":` + string(appendString(nil, tag)) + `,"facts":{"x":1}}`
		if _, err := DecodeContext([]byte(ctx)); !errors.Is(err, ErrUnknownDomain) {
			t.Errorf("context domain %q: expected ErrUnknownDomain, got %v", tag, err)
		}
		ev := `[1,0,1,` + string(appendString(nil, tag)) + `,[],` + ctx + `]`
		if _, err := DecodeString(ev); !errors.Is(err, ErrUnknownDomain) {
			t.Errorf("event domain %q: expected ErrUnknownDomain, got %v", tag, err)
		}
	}
}

func TestDecode_SubjectFidelity(t *testing.T) {
	numeric := wrap("Death", `{}`)
	ev, err := DecodeString(numeric)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ev.Context.Subject.IsInt() {
		t.Error("expected patient_id 1 to decode as a number")
	}
	out, _ := EncodeString(ev)
	if !strings.Contains(out, `"patient_id":1,`) {
		t.Errorf("expected numeric patient_id in %s", out)
	}

	text := strings.Replace(numeric, `"patient_id":1`, `"patient_id":"abc"`, 1)
	ev, err = DecodeString(text)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s, ok := ev.Context.Subject.Text(); !ok || s != "abc" {
		t.Errorf("expected string subject abc, got %v", ev.Context.Subject)
	}

	quoted := strings.Replace(numeric, `"patient_id":1`, `"patient_id":"123"`, 1)
	ev, err = DecodeString(quoted)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Context.Subject.IsInt() {
		t.Error(`expected "123" to stay a string`)
	}
	out, _ = EncodeString(ev)
	if !strings.Contains(out, `"patient_id":"123"`) {
		t.Errorf("expected quoted patient_id in %s", out)
	}
}

func TestEncode_OmitsAbsentOptionals(t *testing.T) {
	ev := &Event{
		Subject: SubjectInt(1),
		Begin:   json.RawMessage("0"),
		Context: Context{
			Subject: SubjectString("p"),
			Time:    IntInterval(0, nil),
			Facts:   DiagnosisFacts{Code: Code{Code: "Z21"}},
		},
	}
	out, err := EncodeString(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `[1,0,null,"Diagnosis",[],{"patient_id":"p","time":{"begin":0,"end":null},"domain":"Diagnosis","facts":{"code":{"code":"Z21"}}}]`
	if out != want {
		t.Errorf("unexpected encoding\n got: %s\nwant: %s", out, want)
	}
	if strings.Contains(out, "codebook") {
		t.Error("absent codebook must not be emitted")
	}
}

func TestEncode_BuiltFacts(t *testing.T) {
	cb := CodebookICD9Proc
	loc := LocationInpatient
	idx := uint32(0)
	n := 2.5
	qty := int32(3)
	end := "2011"

	tests := []struct {
		name  string
		facts Facts
		want  string
	}{
		{"codebook spelling", ProcedureFacts{Code: Code{Code: "1", Codebook: &cb}}, `{"code":{"code":"1","codebook":"ICD9_PROC"}}`},
		{"claim with zero index", ClaimFacts{Claim: Claim{ID: "c", Index: &idx}, Location: &loc}, `{"claim":{"id":"c","index":0},"location":"Inpatient"}`},
		{"new lab number", LabsFacts{Code: Code{Code: "x"}, Value: LabValue{Number: &n, Units: "u"}}, `{"code":{"code":"x"},"value":{"number":2.5,"units":"u"}}`},
		{"fill quantity only", MedicationFacts{Code: Code{Code: "m"}, Fill: &Fill{Quantity: &qty}}, `{"code":{"code":"m"},"fill":{"quantity":3}}`},
		{"empty fill", MedicationFacts{Code: Code{Code: "m"}, Fill: &Fill{}}, `{"code":{"code":"m"},"fill":{}}`},
		{"cost only", ClaimFacts{Claim: Claim{ID: "c"}, Cost: &Cost{Cost: "1"}}, `{"claim":{"id":"c"},"cost":{"cost":"1"}}`},
		{"demographics without info", DemographicsFacts{Field: FieldGender}, `{"field":"Gender"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := &Context{Subject: SubjectInt(9), Time: StringInterval("2010", &end), Facts: tt.facts}
			out, err := EncodeContext(ctx)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			prefix := `{"patient_id":9,"time":{"begin":"2010","end":"2011"},"domain":"` + tt.facts.Domain().String() + `","facts":`
			if want := prefix + tt.want + "}"; string(out) != want {
				t.Errorf("unexpected encoding\n got: %s\nwant: %s", out, want)
			}
		})
	}
}

func TestEncode_ChangedLabNumberDropsLiteral(t *testing.T) {
	ev, err := DecodeString(corpus[6].input)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	labs := ev.Context.Facts.(LabsFacts)
	v := 3.0
	labs.Value.Number = &v
	ev.Context.Facts = labs

	out, err := EncodeString(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(out, `"number":3.0,`) {
		t.Errorf("expected reformatted number in %s", out)
	}
}

func TestEncode_Errors(t *testing.T) {
	bad := Codebook(99)
	nan := func() *float64 { z := 0.0; v := z / z; return &v }()

	valid := func() *Event {
		return &Event{
			Subject: SubjectInt(1),
			Begin:   json.RawMessage("0"),
			Context: Context{Subject: SubjectInt(1), Time: IntInterval(0, nil), Facts: DeathFacts{}},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Event)
		path   string
	}{
		{"no facts", func(e *Event) { e.Context.Facts = nil }, "context.facts"},
		{"nil claim facts pointer", func(e *Event) { e.Context.Facts = (*ClaimFacts)(nil) }, "context.facts"},
		{"nil labs facts pointer", func(e *Event) { e.Context.Facts = (*LabsFacts)(nil) }, "context.facts"},
		{"unset subject", func(e *Event) { e.Subject = Subject{} }, "subject"},
		{"unset context subject", func(e *Event) { e.Context.Subject = Subject{} }, "context.patient_id"},
		{"unset time", func(e *Event) { e.Context.Time = Interval{} }, "context.time"},
		{"missing begin", func(e *Event) { e.Begin = nil }, "begin"},
		{"object begin", func(e *Event) { e.Begin = json.RawMessage(`{"a":1}`) }, "begin"},
		{"invalid end", func(e *Event) { e.End = json.RawMessage(`01`) }, "end"},
		{"invalid source", func(e *Event) { e.Context.Source = json.RawMessage(`{`) }, "context.source"},
		{"invalid codebook", func(e *Event) {
			e.Context.Facts = DiagnosisFacts{Code: Code{Code: "x", Codebook: &bad}}
		}, "context.facts.code.codebook"},
		{"nan lab value", func(e *Event) {
			e.Context.Facts = LabsFacts{Code: Code{Code: "x"}, Value: LabValue{Number: nan}}
		}, "context.facts.value.number"},
		{"invalid info", func(e *Event) {
			e.Context.Facts = DemographicsFacts{Field: FieldRace, Info: json.RawMessage("nope")}
		}, "context.facts.info"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid()
			tt.mutate(ev)
			_, err := Encode(ev)
			if !errors.Is(err, ErrEncode) {
				t.Fatalf("expected ErrEncode, got %v", err)
			}
			var ee *EncodeError
			if !errors.As(err, &ee) || ee.Path != tt.path {
				t.Errorf("expected path %q, got %v", tt.path, err)
			}
			if KindOf(err) != KindEncode {
				t.Errorf("expected KindEncode, got %s", KindOf(err))
			}
		})
	}

	if _, err := Encode(nil); !errors.Is(err, ErrEncode) {
		t.Errorf("nil event: expected ErrEncode, got %v", err)
	}
}

func TestDecode_UnknownContextFieldSkipped(t *testing.T) {
	canonical := wrap("Death", `{}`)
	input := strings.Replace(canonical, `"facts"`, `"extra":{"nested":[1,"]"]},"facts"`, 1)

	ev, err := DecodeString(input)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, err := EncodeString(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if out != canonical {
		t.Errorf("expected the extra field to be dropped\n got: %s\nwant: %s", out, canonical)
	}

	// Unknown keys inside facts are still rejected.
	if _, err := DecodeString(wrap("Claim", `{"claim":{"id":"a"},"extra":1}`)); KindOf(err) != KindInvalidFacts {
		t.Errorf("expected invalid facts, got %v", err)
	}
}

func TestEncode_PointerFacts(t *testing.T) {
	ev := &Event{
		Subject: SubjectInt(1),
		Begin:   json.RawMessage("0"),
		Context: Context{Subject: SubjectInt(1), Time: IntInterval(0, nil), Facts: &ClaimFacts{Claim: Claim{ID: "c1"}}},
	}
	if ev.Domain() != DomainClaim {
		t.Errorf("expected Claim, got %s", ev.Domain())
	}
	out, err := EncodeString(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(out, `"domain":"Claim","facts":{"claim":{"id":"c1"}}`) {
		t.Errorf("unexpected encoding %s", out)
	}

	ev.Context.Facts = (*ClaimFacts)(nil)
	if ev.Domain() != 0 {
		t.Errorf("nil facts pointer should have no domain, got %d", ev.Domain())
	}
}

func TestDecode_OwnedDoesNotAlias(t *testing.T) {
	input := []byte(corpus[1].input)
	i := bytes.Index(input, []byte("somewhere"))

	owned, err := Decode(input)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	borrowed, err := DecodeBorrowed(input)
	if err != nil {
		t.Fatalf("decode borrowed: %v", err)
	}

	input[i] = 'S'
	if bytes.Contains(owned.Context.Source, []byte("Somewhere")) {
		t.Error("owned decode must not see later writes to the input")
	}
	if !bytes.Contains(borrowed.Context.Source, []byte("Somewhere")) {
		t.Error("borrowed decode should share the input buffer")
	}
}

func TestDecode_ContextKeyOrder(t *testing.T) {
	// facts before domain, extra whitespace: decodes, re-encodes canonically.
	input := `[ "abc" , 2 , null , "Procedure" , [ "a" , "a" ] , { "facts" : { "location" : "Outpatient" , "code" : { "codebook" : "CPT" , "code" : "99.01" } } ,
		"domain" : "Procedure" , "time" : { "end" : 1 , "begin" : 0 } , "patient_id" : "abc" } ]`
	ev, err := DecodeString(input)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, err := EncodeString(ev)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if out != corpus[8].input {
		t.Errorf("expected canonical encoding\n got: %s\nwant: %s", out, corpus[8].input)
	}
}

func TestDecode_NullOptionals(t *testing.T) {
	ev, err := DecodeString(wrap("Diagnosis", `{"code":{"code":"Z21","codebook":null},"claim":null,"location":null}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	f := ev.Context.Facts.(DiagnosisFacts)
	if f.Code.Codebook != nil || f.Claim != nil || f.Location != nil {
		t.Errorf("expected null optionals to decode as absent, got %+v", f)
	}
	code, ok := CodeOf(ev.Context.Facts)
	if !ok || code.Code != "Z21" {
		t.Errorf("CodeOf: got %+v, %v", code, ok)
	}
}

func TestEvent_JSONInterop(t *testing.T) {
	type envelope struct {
		Events []Event `json:"events"`
	}
	input := `{"events":[` + corpus[1].input + `,` + corpus[5].input + `]}`

	var env envelope
	if err := json.Unmarshal([]byte(input), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(env.Events) != 2 || env.Events[1].Domain() != DomainEnrollment {
		t.Fatalf("unexpected events: %+v", env.Events)
	}

	out, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != input {
		t.Errorf("marshal mismatch\n got: %s\nwant: %s", out, input)
	}

	var bad envelope
	err = json.Unmarshal([]byte(`{"events":[[1,2]]}`), &bad)
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Errorf("expected ErrMalformedEnvelope through encoding/json, got %v", err)
	}
}

// wrap builds an event whose context carries facts for the given domain.
func wrap(domain, facts string) string {
	return `[1,0,1,"` + domain + `",[],{"patient_id":1,"time":{"begin":0,"end":1},"domain":"` + domain + `","facts":` + facts + `}]`
}
