package request

// AdminRequest is the request body for running an admin command
type AdminRequest struct {
	Command string `json:"command"`
}
