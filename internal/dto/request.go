package dto

// GetEventRequest represents an event lookup request
type GetEventRequest struct {
	ID string `uri:"id" binding:"required,uuid"`
}
