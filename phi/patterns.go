package phi

import (
	"regexp"
	"sort"
	"strings"

	ph "github.com/gofhir/phigate"
)

// Pattern is a compiled structured-value pattern.
type Pattern struct {
	Name       string
	Category   ph.Category
	Confidence float64
	re         *regexp.Regexp
}

// MatchString reports whether s contains a match of the pattern.
func (p Pattern) MatchString(s string) bool {
	return p.re.MatchString(s)
}

// Expr returns the source of the regular expression.
func (p Pattern) Expr() string {
	return p.re.String()
}

// DefaultPatterns returns the built-in structured patterns in evaluation
// order. Exact structured forms have confidence 1.0; looser forms less.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "ssn", Category: ph.CategorySSN, Confidence: 1.0,
			re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
		{Name: "ssn-contiguous", Category: ph.CategorySSN, Confidence: 0.7,
			re: regexp.MustCompile(`\b\d{9}\b`)},
		{Name: "phone-us", Category: ph.CategoryTelephone, Confidence: 0.9,
			re: regexp.MustCompile(`(?:\+?1[-.\s]?)?(?:\(\d{3}\)\s?|\b\d{3}[-.\s])\d{3}[-.\s]\d{4}\b`)},
		{Name: "phone-intl", Category: ph.CategoryTelephone, Confidence: 0.6,
			re: regexp.MustCompile(`\+\d{1,3}[\s-]?\d{2,4}(?:[\s-]?\d{2,4}){2,3}\b`)},
		{Name: "email", Category: ph.CategoryEmail, Confidence: 1.0,
			re: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
		{Name: "url", Category: ph.CategoryURL, Confidence: 1.0,
			re: regexp.MustCompile(`\bhttps?://[^\s/$.?#][^\s]*`)},
		{Name: "url-www", Category: ph.CategoryURL, Confidence: 0.7,
			re: regexp.MustCompile(`\bwww\.[A-Za-z0-9-]+\.[A-Za-z]{2,}`)},
		{Name: "ipv4", Category: ph.CategoryIP, Confidence: 1.0,
			re: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`)},
	}
}

// CompilePattern compiles a configured pattern. Confidence defaults to 1.0.
func CompilePattern(key string, cfg ph.PatternConfig) (Pattern, error) {
	cat, ok := ph.ParseCategory(strings.ToLower(cfg.Category))
	if !ok {
		return Pattern{}, ph.NewConfigurationError(key, "unknown PHI category "+cfg.Category)
	}
	if cfg.Pattern == "" {
		return Pattern{}, ph.NewConfigurationError(key, "pattern must not be empty")
	}
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return Pattern{}, ph.WrapConfigurationError(err, key)
	}
	conf := cfg.Confidence
	if conf == 0 {
		conf = 1.0
	}
	if conf < 0 || conf > 1 {
		return Pattern{}, ph.NewConfigurationError(key, "confidence must be in [0,1]")
	}
	name := cfg.Name
	if name == "" {
		name = string(cat) + "-custom"
	}
	return Pattern{Name: name, Category: cat, Confidence: conf, re: re}, nil
}

type denyTerm struct {
	term     string
	category ph.Category
}

// DefaultFieldNames returns the built-in field-name deny-list.
func DefaultFieldNames() map[string]ph.Category {
	return map[string]ph.Category{
		"ssn":             ph.CategorySSN,
		"social_security": ph.CategorySSN,
		"patient_name":    ph.CategoryNames,
		"first_name":      ph.CategoryNames,
		"last_name":       ph.CategoryNames,
		"full_name":       ph.CategoryNames,
		"mrn":             ph.CategoryMRN,
		"medical_record":  ph.CategoryMRN,
		"address":         ph.CategoryGeographic,
		"zip":             ph.CategoryGeographic,
		"zip_code":        ph.CategoryGeographic,
		"postal_code":     ph.CategoryGeographic,
		"phone":           ph.CategoryTelephone,
		"fax":             ph.CategoryFax,
		"email":           ph.CategoryEmail,
		"email_address":   ph.CategoryEmail,
		"health_plan":     ph.CategoryHealthPlan,
		"insurance_id":    ph.CategoryHealthPlan,
		"account_number":  ph.CategoryAccount,
		"license_number":  ph.CategoryLicense,
		"license_plate":   ph.CategoryVehicle,
		"vehicle_id":      ph.CategoryVehicle,
		"vin":             ph.CategoryVehicle,
		"device_serial":   ph.CategoryDevice,
		"serial_number":   ph.CategoryDevice,
		"ip_address":      ph.CategoryIP,
		"website":         ph.CategoryURL,
		"fingerprint":     ph.CategoryBiometric,
		"photo":           ph.CategoryPhoto,
	}
}

// sortTerms orders terms longest first so that a longer term claims its
// span of a field name before any term it contains.
func sortTerms(m map[string]ph.Category) []denyTerm {
	terms := make([]denyTerm, 0, len(m))
	for t, c := range m {
		terms = append(terms, denyTerm{term: strings.ToLower(t), category: c})
	}
	sort.Slice(terms, func(i, j int) bool {
		if len(terms[i].term) != len(terms[j].term) {
			return len(terms[i].term) > len(terms[j].term)
		}
		return terms[i].term < terms[j].term
	})
	return terms
}
