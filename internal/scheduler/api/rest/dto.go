package rest

type SubmitJobResponse struct {
	JobName   string            `json:"job_name"`
	Queues    map[string]string `json:"queues"`
	Published map[string]int    `json:"published"`
	Message   string            `json:"message"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	Code      int    `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}
