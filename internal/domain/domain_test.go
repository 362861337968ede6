package domain

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestSelectionJSON(t *testing.T) {
	cases := []struct {
		in   string
		want Selection
		out  string
	}{
		{`"ALL"`, All(), `"ALL"`},
		{`"all"`, All(), `"ALL"`},
		{`["b","a","b"]`, Of("a", "b"), `["a","b"]`},
		{`[]`, Selection{}, `[]`},
		{`null`, Selection{}, `[]`},
	}
	for _, tc := range cases {
		var s Selection
		if err := json.Unmarshal([]byte(tc.in), &s); err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if !s.Equal(tc.want) {
			t.Fatalf("%s: got %+v want %+v", tc.in, s, tc.want)
		}
		b, err := json.Marshal(s)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != tc.out {
			t.Fatalf("%s: marshalled %s want %s", tc.in, b, tc.out)
		}
	}
	var s Selection
	if err := json.Unmarshal([]byte(`"SOME"`), &s); err == nil {
		t.Fatalf("expected error for non-ALL string")
	}
}

func TestSelectionYAML(t *testing.T) {
	var doc struct {
		A Selection `yaml:"a"`
		B Selection `yaml:"b"`
	}
	if err := yaml.Unmarshal([]byte("a: ALL\nb: [x, y]\n"), &doc); err != nil {
		t.Fatal(err)
	}
	if !doc.A.All || !doc.B.Equal(Of("y", "x")) {
		t.Fatalf("unexpected selections: %+v", doc)
	}
}

func TestParseSelection(t *testing.T) {
	if !ParseSelection("*").All || !ParseSelection(" all ").All {
		t.Fatalf("expected ALL")
	}
	if got := ParseSelection("r2, r1,,r2"); got.String() != "r1,r2" {
		t.Fatalf("got %q", got.String())
	}
}

func TestLicenseTier(t *testing.T) {
	for in, want := range map[string]LicenseTier{"essential": TierEssential, "Advantage": TierAdvantage, "3": TierSignature} {
		got, err := ParseLicenseTier(in)
		if err != nil || got != want {
			t.Fatalf("ParseLicenseTier(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLicenseTier("platinum"); err == nil {
		t.Fatalf("expected error")
	}
	if !(TierEssential < TierAdvantage && TierAdvantage < TierSignature) {
		t.Fatalf("tiers must be ordered")
	}
	var tier LicenseTier
	if err := json.Unmarshal([]byte(`2`), &tier); err != nil || tier != TierAdvantage {
		t.Fatalf("numeric tier: %v %v", tier, err)
	}
	b, _ := json.Marshal(TierSignature)
	if string(b) != `"Signature"` {
		t.Fatalf("got %s", b)
	}
}

func TestStatusPredicates(t *testing.T) {
	done := map[Status]bool{StatusCompleted: true, StatusDone: true, StatusNotApplicable: true, StatusNoLongerUsing: true}
	for _, s := range Statuses {
		if s.CountsAsDone() != done[s] {
			t.Fatalf("%s: CountsAsDone = %v", s, s.CountsAsDone())
		}
	}
	if StatusCompleted.ManualTerminal() || !StatusDone.ManualTerminal() {
		t.Fatalf("COMPLETED is automatic, DONE is manual")
	}
	if StatusRetired.AutoCompletable() || !StatusInProgress.AutoCompletable() {
		t.Fatalf("unexpected AutoCompletable")
	}
	if s, err := ParseStatus("no-longer-using"); err != nil || s != StatusNoLongerUsing {
		t.Fatalf("ParseStatus: %v %v", s, err)
	}
}

func TestFormatTimeSortsLexically(t *testing.T) {
	a := FormatTime(time.Date(2024, 1, 1, 9, 0, 0, 5000, time.UTC))
	b := FormatTime(time.Date(2024, 1, 1, 11, 0, 0, 0, time.FixedZone("X", 3600)))
	if a != "2024-01-01T09:00:00.000005Z" || !(a < b) {
		t.Fatalf("unexpected formatting %q %q", a, b)
	}
}
