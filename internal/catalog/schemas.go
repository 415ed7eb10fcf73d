package catalog

import "github.com/cuongbtq/cog-core/internal/schema"

// Filter modes accepted for a scan. Placeholder values: the downstream
// scanner's authoritative list is not published, so keep these in sync with it.
var FilterModes = []string{"auto", "keywords", "spam", "links", "manual"}

// Removal types accepted for a scan. Placeholder values, see FilterModes.
var RemovalTypes = []string{"heldForReview", "rejected", "delete"}

// AuthConfig identifies the account a scan runs for.
var AuthConfig = schema.Object{Fields: []schema.Field{
	{Name: "uuid", Node: schema.String{Description: "account id"}},
	{Name: "password", Node: schema.String{}},
}}

// ScanConfig is the settings block shared by every scan function.
var ScanConfig = schema.Object{Fields: []schema.Field{
	{Name: "uuid", Node: schema.String{}},
	{Name: "password", Node: schema.String{}},
	{Name: "max_comments", Node: schema.Number{Description: "maximum comments inspected per run"}},
	{Name: "filter_mode", Node: schema.Enum{Values: FilterModes}},
	{Name: "filter_subMode", Node: schema.Optional{Inner: schema.String{}}},
	{Name: "removal_type", Node: schema.Enum{Values: RemovalTypes}},
}}

func scanBody(config schema.Object) schema.Object {
	return schema.Object{Fields: []schema.Field{
		{Name: "config", Node: config},
		{Name: "auth", Node: AuthConfig},
	}}
}

// ScanBody is the decoded form of every scan request.
type ScanBody struct {
	Config map[string]any `json:"config"`
	Auth   Auth           `json:"auth"`
}

// Auth carries the downstream credentials.
type Auth struct {
	UUID     string `json:"uuid"`
	Password string `json:"password"`
}

// HealthcheckBody is the decoded form of a healthcheck request.
type HealthcheckBody struct {
	Endpoint string `json:"endpoint"`
	Owner    string `json:"owner,omitempty"`
}
