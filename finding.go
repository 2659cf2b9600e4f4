package phigate

import "strconv"

// Category is one of the eighteen HIPAA Safe-Harbor identifier classes.
type Category string

// Safe-Harbor identifier categories, in the order they are enumerated by
// 45 CFR 164.514(b)(2).
const (
	CategoryNames      Category = "names"
	CategoryGeographic Category = "geographic"
	CategoryDates      Category = "dates"
	CategoryTelephone  Category = "telephone"
	CategoryFax        Category = "fax"
	CategoryEmail      Category = "email"
	CategorySSN        Category = "ssn"
	CategoryMRN        Category = "mrn"
	CategoryHealthPlan Category = "health_plan"
	CategoryAccount    Category = "account"
	CategoryLicense    Category = "license"
	CategoryVehicle    Category = "vehicle"
	CategoryDevice     Category = "device"
	CategoryURL        Category = "url"
	CategoryIP         Category = "ip"
	CategoryBiometric  Category = "biometric"
	CategoryPhoto      Category = "photo"
	CategoryOtherID    Category = "other_id"
)

var categories = []Category{
	CategoryNames,
	CategoryGeographic,
	CategoryDates,
	CategoryTelephone,
	CategoryFax,
	CategoryEmail,
	CategorySSN,
	CategoryMRN,
	CategoryHealthPlan,
	CategoryAccount,
	CategoryLicense,
	CategoryVehicle,
	CategoryDevice,
	CategoryURL,
	CategoryIP,
	CategoryBiometric,
	CategoryPhoto,
	CategoryOtherID,
}

// Categories returns all Safe-Harbor categories in enumeration order.
func Categories() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

// ParseCategory returns the category with the given name.
func ParseCategory(s string) (Category, bool) {
	for _, c := range categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Rank returns the position of c in the Safe-Harbor enumeration,
// or -1 if c is not a known category.
func (c Category) Rank() int {
	for i, known := range categories {
		if known == c {
			return i
		}
	}
	return -1
}

// Finding is a field flagged as possible protected health information.
// Findings never carry the matched value.
type Finding struct {
	// Field is the flagged field; nested fields use dotted paths
	Field string `json:"field"`

	// Category is the Safe-Harbor class of the identifier
	Category Category `json:"category"`

	// Confidence is in [0,1]; structured exact matches are 1.0
	Confidence float64 `json:"confidence"`

	// Pattern identifies the rule that produced the finding
	Pattern string `json:"matched_pattern"`

	// Advisory findings come from low-confidence heuristics and never
	// fail validation
	Advisory bool `json:"advisory,omitempty"`
}

// String returns the warning line used for the finding.
func (f Finding) String() string {
	return "possible PHI in field " + f.Field + ": " + string(f.Category) +
		" (confidence " + strconv.FormatFloat(f.Confidence, 'f', 2, 64) + ")"
}
