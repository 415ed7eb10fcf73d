package dto

// ListWorkflowsRequest selects the workflow projection. extendedDetails may
// arrive as a query parameter or in a JSON body.
type ListWorkflowsRequest struct {
	ExtendedDetails bool `form:"extendedDetails" json:"extendedDetails"`
}

type FunctionsData struct {
	Functions any `json:"functions"`
}

type BrokerStatus struct {
	Driver string `json:"driver"`
}

type StatusResponse struct {
	Host                        string       `json:"host"`
	NumberOfIntegratedFunctions int          `json:"numberOfIntegratedFunctions"`
	NumberOfScheduledWorkflows  int          `json:"numberOfScheduledWorkflows"`
	Broker                      BrokerStatus `json:"broker"`
}
