package dto

// ChatMessageRequest is a raw chat notification forwarded over HTTP
type ChatMessageRequest struct {
	ChatID    string `json:"chat_id,omitempty" validate:"omitempty,max=255"`
	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text" validate:"required"`
}

// ChatMessageResponse reports what the parser made of a message
type ChatMessageResponse struct {
	IsSale           bool                    `json:"is_sale"`
	AlreadyProcessed bool                    `json:"already_processed"`
	Sale             *SaleProcessingResponse `json:"sale,omitempty"`
}
