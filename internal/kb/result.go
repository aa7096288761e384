package kb

import "net/http"

// Status is the outcome of a run.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// User-facing messages.
const (
	msgCannotCreate = "Cannot create collection"
	msgCannotQuery  = "Cannot query database!"
	msgCannotUpsert = "Cannot upsert into database!"
	msgNoEmbedding  = "Cannot embed the question!"
	msgNoAnswer     = "Cannot answer the question!"
	msgInserted     = "Successfully inserted %d records. The collection now has %d records in total."
)

// Result is the structured outcome of a knowledge-base call.
type Result struct {
	Status  Status `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`

	Inserted int    `json:"inserted,omitempty"`
	Failed   int    `json:"failed,omitempty"`
	Total    uint64 `json:"total,omitempty"`
	Answer   string `json:"answer,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Body is the text returned to the caller: the answer when there is one,
// the message otherwise.
func (r Result) Body() string {
	if r.OK() && r.Answer != "" {
		return r.Answer
	}
	return r.Message
}

func failed(code int, runID, msg string) Result {
	return Result{Status: StatusFailed, Code: code, Message: msg, RunID: runID}
}

func malformed(err error) Result {
	return Result{Status: StatusFailed, Code: http.StatusBadRequest, Message: err.Error()}
}
