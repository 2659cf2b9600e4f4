package phigate

// IssueSeverity grades an Issue. Error and fatal issues make a record
// invalid.
type IssueSeverity string

const (
	SeverityFatal       IssueSeverity = "fatal" // validation of the record stopped
	SeverityError       IssueSeverity = "error"
	SeverityWarning     IssueSeverity = "warning"
	SeverityInformation IssueSeverity = "information"
)

// IssueType classifies what an Issue is about.
type IssueType string

const (
	IssueTypeRequired     IssueType = "required"
	IssueTypeType         IssueType = "type"
	IssueTypeRange        IssueType = "range"
	IssueTypeFormat       IssueType = "format"
	IssueTypeValue        IssueType = "value"        // not an allowed value
	IssueTypeCodeInvalid  IssueType = "code-invalid" // code outside the bound value set
	IssueTypeBusinessRule IssueType = "business-rule"
	IssueTypePHI          IssueType = "phi"
	IssueTypeUnknownField IssueType = "unknown-field"
	IssueTypeQuality      IssueType = "quality"
	IssueTypeProcessing   IssueType = "processing"
)

// Issue is the typed form of one error, warning or informational line.
// Diagnostics is the text that appears in Result.Errors or
// Result.Warnings; it never contains a field's value.
type Issue struct {
	Severity    IssueSeverity `json:"severity"`
	Code        IssueType     `json:"code"`
	Diagnostics string        `json:"diagnostics"`
	Field       string        `json:"field,omitempty"` // dotted path for nested fields
	Phase       string        `json:"phase,omitempty"`
	Category    Category      `json:"category,omitempty"` // phi issues only
	Rule        string        `json:"rule,omitempty"`     // business-rule issues only
}

func (i Issue) IsError() bool {
	return i.Severity == SeverityError || i.Severity == SeverityFatal
}

func (i Issue) IsWarning() bool { return i.Severity == SeverityWarning }

func (i Issue) String() string {
	return string(i.Severity) + ": " + i.Diagnostics
}

// IssueBuilder assembles an Issue:
//
//	ph.Error(ph.IssueTypeRequired).Field("age").Diagnostics("missing required field: age").Build()
type IssueBuilder struct {
	issue Issue
}

func NewIssue(severity IssueSeverity, code IssueType) *IssueBuilder {
	return &IssueBuilder{issue: Issue{Severity: severity, Code: code}}
}

func Error(code IssueType) *IssueBuilder { return NewIssue(SeverityError, code) }
func Warning(code IssueType) *IssueBuilder { return NewIssue(SeverityWarning, code) }
func Info(code IssueType) *IssueBuilder { return NewIssue(SeverityInformation, code) }

func (b *IssueBuilder) Diagnostics(msg string) *IssueBuilder {
	b.issue.Diagnostics = msg
	return b
}

func (b *IssueBuilder) Field(name string) *IssueBuilder {
	b.issue.Field = name
	return b
}

func (b *IssueBuilder) Phase(phase string) *IssueBuilder {
	b.issue.Phase = phase
	return b
}

func (b *IssueBuilder) Category(c Category) *IssueBuilder {
	b.issue.Category = c
	return b
}

func (b *IssueBuilder) Rule(name string) *IssueBuilder {
	b.issue.Rule = name
	return b
}

func (b *IssueBuilder) Build() Issue { return b.issue }
