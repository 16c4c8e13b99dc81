package engine

// TargetRecord is the flat record shape ingested into the Azure Monitor Logs
// DCR stream. Every field is a string or float64 so the record serializes
// without further massaging; optional/missing values normalize to "".
type TargetRecord struct {
	TimeGenerated string `json:"TimeGenerated"`
	FindingId     string `json:"FindingId"`
	AccountId     string `json:"AccountId"`
	Region        string `json:"Region"`
	Severity      float64 `json:"Severity"`
	Type          string `json:"Type"`
	RawJson       string `json:"RawJson"`

	Title           string `json:"Title,omitempty"`
	Description     string `json:"Description,omitempty"`
	Service         string `json:"Service,omitempty"`
	ResourceType    string `json:"ResourceType,omitempty"`
	InstanceId      string `json:"InstanceId,omitempty"`
	RemoteIpAddress string `json:"RemoteIpAddress,omitempty"`
	RemoteIpCountry string `json:"RemoteIpCountry,omitempty"`
	ActionType      string `json:"ActionType,omitempty"`
	ThreatNames     string `json:"ThreatNames,omitempty"`
	CreatedAt       string `json:"CreatedAt,omitempty"`
	UpdatedAt       string `json:"UpdatedAt,omitempty"`
	EventFirstSeen  string `json:"EventFirstSeen,omitempty"`
	EventLastSeen   string `json:"EventLastSeen,omitempty"`
	Count           string `json:"Count,omitempty"`
	Archived        string `json:"Archived,omitempty"`
}
