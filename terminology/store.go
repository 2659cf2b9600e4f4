package terminology

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gofhir/fhir/r4"

	ph "github.com/gofhir/phigate"
)

// ErrUnknownValueSet is returned by Expand for a value set that was never
// loaded.
var ErrUnknownValueSet = errors.New("value set not loaded")

// Store keeps value sets and code systems in memory and answers membership
// questions for the schema validator. It is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	valueSets   map[string]*valueSet
	codeSystems map[string]*codeSystem
}

// Concept is one code of an expanded value set.
type Concept struct {
	System  string
	Code    string
	Display string
}

type valueSet struct {
	url      string
	codes    map[string]map[string]Concept // system -> code -> concept
	filters  []filter
	expanded bool
}

type codeSystem struct {
	url      string
	codes    map[string]Concept
	parents  map[string][]string // code -> subsumedBy
	children map[string][]string
}

// filter is a compose rule resolved against its code system on first use.
type filter struct {
	system   string
	property string
	op       string
	value    string
}

const opIncludeAll = "include-all"

// NewStore creates a store preloaded with the common code systems.
func NewStore() *Store {
	s := NewEmptyStore()
	s.loadCommon()
	return s
}

// NewEmptyStore creates a store with nothing loaded.
func NewEmptyStore() *Store {
	return &Store{
		valueSets:   make(map[string]*valueSet),
		codeSystems: make(map[string]*codeSystem),
	}
}

// LoadValueSet adds an R4 ValueSet. An expansion is used as is; otherwise
// the compose includes are recorded and filters expand lazily.
func (s *Store) LoadValueSet(vs *r4.ValueSet) error {
	if vs == nil || vs.Url == nil || *vs.Url == "" {
		return errors.New("value set is nil or has no url")
	}

	data := &valueSet{
		url:   *vs.Url,
		codes: make(map[string]map[string]Concept),
	}
	if vs.Expansion != nil {
		for i := range vs.Expansion.Contains {
			data.addContains(&vs.Expansion.Contains[i])
		}
		data.expanded = true
	}
	if vs.Compose != nil && !data.expanded {
		data.addCompose(vs.Compose)
	}

	s.mu.Lock()
	s.valueSets[data.url] = data
	s.mu.Unlock()
	return nil
}

// LoadCodeSystem adds an R4 CodeSystem including nested concepts and the
// subsumedBy hierarchy.
func (s *Store) LoadCodeSystem(cs *r4.CodeSystem) error {
	if cs == nil || cs.Url == nil || *cs.Url == "" {
		return errors.New("code system is nil or has no url")
	}

	data := &codeSystem{
		url:      *cs.Url,
		codes:    make(map[string]Concept),
		parents:  make(map[string][]string),
		children: make(map[string][]string),
	}
	data.addConcepts(cs.Concept, "")
	for code, parents := range data.parents {
		for _, p := range parents {
			data.children[p] = append(data.children[p], code)
		}
	}

	s.mu.Lock()
	s.codeSystems[data.url] = data
	// value sets that include this system must be expanded again
	for _, vs := range s.valueSets {
		if vs.expanded && vs.includes(data.url) {
			vs.expanded = false
		}
	}
	s.mu.Unlock()
	return nil
}

// AddCodeSystem registers a flat code system of code to display.
func (s *Store) AddCodeSystem(url string, codes map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCodeSystem(url, codes)
}

// AddValueSet registers a value set with explicit codes from one system.
func (s *Store) AddValueSet(url, system string, codes map[string]string) {
	data := &valueSet{
		url:      url,
		codes:    map[string]map[string]Concept{system: make(map[string]Concept, len(codes))},
		expanded: true,
	}
	for code, display := range codes {
		data.codes[system][code] = Concept{System: system, Code: code, Display: display}
	}

	s.mu.Lock()
	s.valueSets[url] = data
	s.mu.Unlock()
}

// Contains reports whether code belongs to the value set under any system.
// known is false when the value set is not loaded.
func (s *Store) Contains(valueSetURL, code string) (member, known bool) {
	return s.ContainsCoding(valueSetURL, "", code)
}

// ContainsCoding is Contains restricted to one system. An empty system
// matches any.
func (s *Store) ContainsCoding(valueSetURL, system, code string) (member, known bool) {
	url := stripVersion(valueSetURL)
	if !s.ensureExpanded(url) {
		return false, false
	}
	if code == "" {
		return false, true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.valueSets[url]
	if system != "" {
		_, ok := vs.codes[system][code]
		return ok, true
	}
	for _, codes := range vs.codes {
		if _, ok := codes[code]; ok {
			return true, true
		}
	}
	return false, true
}

// Lookup returns the concept for code in a loaded code system.
func (s *Store) Lookup(system, code string) (Concept, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.codeSystems[stripVersion(system)]
	if !ok {
		return Concept{}, false
	}
	c, ok := cs.codes[code]
	return c, ok
}

// Expand returns every concept of the value set ordered by system, then
// code.
func (s *Store) Expand(valueSetURL string) ([]Concept, error) {
	url := stripVersion(valueSetURL)
	if !s.ensureExpanded(url) {
		return nil, errors.Wrapf(ErrUnknownValueSet, "expand %s", url)
	}

	s.mu.RLock()
	vs := s.valueSets[url]
	var out []Concept
	for _, codes := range vs.codes {
		for _, c := range codes {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].System != out[j].System {
			return out[i].System < out[j].System
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// CountValueSets returns the number of loaded value sets.
func (s *Store) CountValueSets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.valueSets)
}

// CountCodeSystems returns the number of loaded code systems.
func (s *Store) CountCodeSystems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.codeSystems)
}

// ensureExpanded resolves pending filters. It reports false when the value
// set is unknown.
func (s *Store) ensureExpanded(url string) bool {
	s.mu.RLock()
	vs, ok := s.valueSets[url]
	if !ok {
		s.mu.RUnlock()
		return false
	}
	done := vs.expanded || len(vs.filters) == 0
	s.mu.RUnlock()
	if done {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	vs, ok = s.valueSets[url]
	if !ok {
		return false
	}
	if vs.expanded {
		return true
	}
	for _, f := range vs.filters {
		cs, ok := s.codeSystems[f.system]
		if !ok {
			continue
		}
		if vs.codes[f.system] == nil {
			vs.codes[f.system] = make(map[string]Concept)
		}
		for _, code := range cs.match(f) {
			vs.codes[f.system][code] = cs.codes[code]
		}
	}
	vs.expanded = true
	return true
}

func (s *Store) addCodeSystem(url string, codes map[string]string) {
	data := &codeSystem{
		url:   url,
		codes: make(map[string]Concept, len(codes)),
	}
	for code, display := range codes {
		data.codes[code] = Concept{System: url, Code: code, Display: display}
	}
	s.codeSystems[url] = data
}

// addValueSetFor registers a value set that includes all of system.
func (s *Store) addValueSetFor(vsURL, system string) {
	s.valueSets[vsURL] = &valueSet{
		url:     vsURL,
		codes:   make(map[string]map[string]Concept),
		filters: []filter{{system: system, op: opIncludeAll}},
	}
}

func (vs *valueSet) addContains(c *r4.ValueSetExpansionContains) {
	if c.Code != nil && c.System != nil {
		vs.put(Concept{System: *c.System, Code: *c.Code, Display: deref(c.Display)})
	}
	for i := range c.Contains {
		vs.addContains(&c.Contains[i])
	}
}

func (vs *valueSet) addCompose(compose *r4.ValueSetCompose) {
	for i := range compose.Include {
		inc := &compose.Include[i]
		if inc.System == nil {
			continue
		}
		system := *inc.System
		for j := range inc.Concept {
			if c := inc.Concept[j]; c.Code != nil {
				vs.put(Concept{System: system, Code: *c.Code, Display: deref(c.Display)})
			}
		}
		for _, f := range inc.Filter {
			if f.Property == nil || f.Op == nil || f.Value == nil {
				continue
			}
			vs.filters = append(vs.filters, filter{
				system:   system,
				property: *f.Property,
				op:       string(*f.Op),
				value:    *f.Value,
			})
		}
		if len(inc.Concept) == 0 && len(inc.Filter) == 0 {
			vs.filters = append(vs.filters, filter{system: system, op: opIncludeAll})
		}
	}
}

func (vs *valueSet) put(c Concept) {
	if vs.codes[c.System] == nil {
		vs.codes[c.System] = make(map[string]Concept)
	}
	vs.codes[c.System][c.Code] = c
}

func (vs *valueSet) includes(system string) bool {
	for _, f := range vs.filters {
		if f.system == system {
			return true
		}
	}
	return false
}

func (cs *codeSystem) addConcepts(concepts []r4.CodeSystemConcept, parent string) {
	for i := range concepts {
		c := &concepts[i]
		if c.Code == nil {
			continue
		}
		code := *c.Code
		cs.codes[code] = Concept{System: cs.url, Code: code, Display: deref(c.Display)}
		if parent != "" {
			cs.parents[code] = append(cs.parents[code], parent)
		}
		for _, p := range c.Property {
			if p.Code != nil && *p.Code == "subsumedBy" && p.ValueCode != nil {
				cs.parents[code] = append(cs.parents[code], *p.ValueCode)
			}
		}
		cs.addConcepts(c.Concept, code)
	}
}

// match returns the codes selected by f. Unsupported filters select
// nothing.
func (cs *codeSystem) match(f filter) []string {
	var out []string
	switch {
	case f.op == opIncludeAll:
		for code := range cs.codes {
			out = append(out, code)
		}
	case f.property == "concept" && (f.op == "is-a" || f.op == "descendent-of"):
		out = cs.descendants(f.value, f.op == "is-a")
	case f.property == "code" && f.op == "regex":
		re, err := regexp.Compile("^(?:" + f.value + ")$")
		if err != nil {
			return nil
		}
		for code := range cs.codes {
			if re.MatchString(code) {
				out = append(out, code)
			}
		}
	case f.property == "code" && f.op == "=":
		if _, ok := cs.codes[f.value]; ok {
			out = append(out, f.value)
		}
	}
	return out
}

// descendants walks the hierarchy below start. Abstract codes, those
// starting with an underscore, are skipped.
func (cs *codeSystem) descendants(start string, self bool) []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(code string)
	walk = func(code string) {
		if seen[code] {
			return
		}
		seen[code] = true
		if (self || code != start) && !strings.HasPrefix(code, "_") {
			if _, ok := cs.codes[code]; ok {
				out = append(out, code)
			}
		}
		for _, child := range cs.children[code] {
			walk(child)
		}
	}
	walk(start)
	return out
}

// stripVersion removes a "|version" suffix from a canonical url.
func stripVersion(url string) string {
	if i := strings.LastIndex(url, "|"); i != -1 {
		return url[:i]
	}
	return url
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ ph.Terminology = (*Store)(nil)
