package backend

// ChatRequest is the payload sent to POST /chat on the backend.
// Content is the user's prompt; the rest are passed through untouched.
type ChatRequest struct {
	Content string `json:"content"`
	Mode    string `json:"mode,omitempty"`
	Model   string `json:"model,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

// ChatResponse is the backend's answer to a ChatRequest. TraceID names the
// event stream that carries the reply.
type ChatResponse struct {
	TraceID string `json:"trace_id"`
}
