package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AllSentinel is the wire form of an unrestricted selection.
const AllSentinel = "ALL"

// Selection is either the ALL sentinel or an explicit set of ids.
// The zero value is an empty explicit set.
type Selection struct {
	All bool
	IDs []string
}

func All() Selection { return Selection{All: true} }

// Of builds an explicit selection; ids are de-duplicated and sorted.
func Of(ids ...string) Selection {
	return Selection{IDs: normalizeIDs(ids)}
}

// Intersects reports whether the two explicit sets share an id. It ignores the
// ALL flag; callers apply ALL short-circuiting.
func (s Selection) Intersects(other Selection) bool {
	if len(s.IDs) == 0 || len(other.IDs) == 0 {
		return false
	}
	seen := make(map[string]struct{}, len(s.IDs))
	for _, id := range s.IDs {
		seen[id] = struct{}{}
	}
	for _, id := range other.IDs {
		if _, ok := seen[id]; ok {
			return true
		}
	}
	return false
}

func (s Selection) Equal(other Selection) bool {
	if s.All || other.All {
		return s.All == other.All
	}
	a, b := normalizeIDs(s.IDs), normalizeIDs(other.IDs)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s Selection) String() string {
	if s.All {
		return AllSentinel
	}
	return strings.Join(normalizeIDs(s.IDs), ",")
}

// ParseSelection accepts "ALL", "*", or a comma separated id list.
func ParseSelection(in string) Selection {
	trimmed := strings.TrimSpace(in)
	if strings.EqualFold(trimmed, AllSentinel) || trimmed == "*" {
		return All()
	}
	return Of(strings.Split(trimmed, ",")...)
}

func (s Selection) MarshalJSON() ([]byte, error) {
	if s.All {
		return json.Marshal(AllSentinel)
	}
	ids := normalizeIDs(s.IDs)
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

func (s *Selection) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*s = Selection{}
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var v string
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return err
		}
		if !strings.EqualFold(v, AllSentinel) {
			return fmt.Errorf("selection must be %q or an array of ids, got %q", AllSentinel, v)
		}
		*s = All()
		return nil
	}
	var ids []string
	if err := json.Unmarshal(trimmed, &ids); err != nil {
		return fmt.Errorf("selection must be %q or an array of ids: %w", AllSentinel, err)
	}
	*s = Of(ids...)
	return nil
}

// UnmarshalYAML accepts the same shapes as the JSON form.
func (s *Selection) UnmarshalYAML(unmarshal func(any) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		if strings.EqualFold(single, AllSentinel) || single == "*" {
			*s = All()
			return nil
		}
		*s = Of(single)
		return nil
	}
	var ids []string
	if err := unmarshal(&ids); err != nil {
		return fmt.Errorf("selection must be %q or a list of ids: %w", AllSentinel, err)
	}
	*s = Of(ids...)
	return nil
}

func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// LicenseTier is an ordinal entitlement level.
type LicenseTier int

const (
	TierEssential LicenseTier = 1
	TierAdvantage LicenseTier = 2
	TierSignature LicenseTier = 3
)

var tierNames = map[LicenseTier]string{
	TierEssential: "Essential",
	TierAdvantage: "Advantage",
	TierSignature: "Signature",
}

func (t LicenseTier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

func (t LicenseTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return strconv.Itoa(int(t))
}

// ParseLicenseTier accepts a tier name (case-insensitive) or its ordinal.
func ParseLicenseTier(in string) (LicenseTier, error) {
	trimmed := strings.TrimSpace(in)
	if n, err := strconv.Atoi(trimmed); err == nil {
		t := LicenseTier(n)
		if !t.Valid() {
			return 0, fmt.Errorf("invalid license tier %d", n)
		}
		return t, nil
	}
	for t, name := range tierNames {
		if strings.EqualFold(name, trimmed) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("invalid license tier %q", in)
}

func (t LicenseTier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *LicenseTier) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseLicenseTier(fmt.Sprint(raw))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t *LicenseTier) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := ParseLicenseTier(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
