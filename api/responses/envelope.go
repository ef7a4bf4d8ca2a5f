package responses

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// WebhookAck is the fixed acknowledgment body returned to webhook senders.
// Senders only look at the status code, so the body stays flat.
type WebhookAck struct {
	Received    bool   `json:"received"`
	Action      string `json:"action,omitempty"`
	OrderID     string `json:"orderId,omitempty"`
	OrderNumber string `json:"orderNumber,omitempty"`
	Error       string `json:"error,omitempty"`
}

type webhookRejection struct {
	Error string `json:"error"`
}
