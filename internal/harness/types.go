package harness

// Response is the recorded outcome of one scenario request.
type Response struct {
	Name   string `json:"name"`
	Status int    `json:"status"`

	// ContentType is the response Content-Type header.
	ContentType string `json:"content_type,omitempty"`

	// Body is the decoded JSON body, nil for an empty body.
	Body any `json:"body,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Responses holds one entry per request, in order.
	Responses []Response `json:"responses"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Responses: []Response{},
		Errors:    []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddResponse records a request outcome.
func (r *Result) AddResponse(resp Response) {
	r.Responses = append(r.Responses, resp)
}
