package crisis

// ResourceType groups support resources by how they are reached.
type ResourceType string

// Resource types.
const (
	ResourceHotline    ResourceType = "hotline"
	ResourceTextLine   ResourceType = "text"
	ResourceEmergency  ResourceType = "emergency"
	ResourceCounseling ResourceType = "counseling"
)

// Resource is one support contact surfaced to the user. The list is static
// and compiled in so crisis replies never depend on an external service.
type Resource struct {
	Name        string       `json:"name"`
	Contact     string       `json:"contact"`
	Type        ResourceType `json:"type"`
	Description string       `json:"description"`
	MinSeverity Severity     `json:"minSeverity"` // shown at this severity and above
	Available   string       `json:"available"`
}

// resourceCatalog is the full static resource list.
var resourceCatalog = []Resource{
	{
		Name:        "988 Suicide & Crisis Lifeline",
		Contact:     "call or text 988",
		Type:        ResourceHotline,
		Description: "Free, confidential crisis support",
		MinSeverity: SeverityModerate,
		Available:   "24/7",
	},
	{
		Name:        "Crisis Text Line",
		Contact:     "text HOME to 741741",
		Type:        ResourceTextLine,
		Description: "Text-based crisis counseling",
		MinSeverity: SeverityModerate,
		Available:   "24/7",
	},
	{
		Name:        "Emergency Services",
		Contact:     "call 911",
		Type:        ResourceEmergency,
		Description: "Immediate emergency response",
		MinSeverity: SeverityHigh,
		Available:   "24/7",
	},
	{
		Name:        "SAMHSA National Helpline",
		Contact:     "1-800-662-4357",
		Type:        ResourceHotline,
		Description: "Treatment referral and information service",
		MinSeverity: SeverityModerate,
		Available:   "24/7",
	},
	{
		Name:        "Local counseling services",
		Contact:     "findtreatment.gov",
		Type:        ResourceCounseling,
		Description: "Directory of licensed mental-health providers",
		MinSeverity: SeverityNone,
		Available:   "varies",
	},
}

// Resources returns the catalog filtered by severity and type. A resource is
// included when the requested severity is at or above its MinSeverity.
// Empty typeFilter matches every type. SeverityNone returns only
// always-available resources.
func Resources(severity Severity, typeFilter ResourceType) []Resource {
	var out []Resource
	for _, r := range resourceCatalog {
		if severity.Rank() < r.MinSeverity.Rank() {
			continue
		}
		if typeFilter != "" && r.Type != typeFilter {
			continue
		}
		out = append(out, r)
	}
	return out
}
