package transform

// fieldPaths maps a TargetRecord destination field to a fixed priority list
// of dot-delimited paths into the raw finding. The first path that resolves
// to a non-empty value wins (see the Transformer's tie-break rule); paths
// use "N" for array indices (e.g. "a.0.b").
var fieldPaths = map[string][]string{
	"Service":      {"service.serviceName"},
	"ResourceType": {"resource.resourceType"},
	"InstanceId":   {"resource.instanceDetails.instanceId"},
	"ActionType":   {"service.action.actionType"},
	"ThreatNames":  {"service.additionalInfo.threatListName", "service.additionalInfo.threatName"},
	"EventFirstSeen": {"service.eventFirstSeen"},
	"EventLastSeen":  {"service.eventLastSeen"},
	"Count":          {"service.count"},
	"Archived":       {"service.archived"},

	// RemoteIpAddress/RemoteIpCountry share a priority list: network
	// connection action wins over a DNS action, which wins over a port
	// probe action's first recorded remote.
	"RemoteIpAddress": {
		"service.action.networkConnectionAction.remoteIpDetails.ipAddressV4",
		"service.action.dnsRequestAction.remoteIpDetails.ipAddressV4",
		"service.action.portProbeAction.portProbeDetails.0.remoteIpDetails.ipAddressV4",
	},
	"RemoteIpCountry": {
		"service.action.networkConnectionAction.remoteIpDetails.country.countryName",
		"service.action.dnsRequestAction.remoteIpDetails.country.countryName",
		"service.action.portProbeAction.portProbeDetails.0.remoteIpDetails.country.countryName",
	},
}
